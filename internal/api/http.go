package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"

	"github.com/SimplyPrint/spooltag/internal/filament"
	"github.com/SimplyPrint/spooltag/internal/keys"
	"github.com/SimplyPrint/spooltag/internal/library"
	"github.com/SimplyPrint/spooltag/internal/logging"
	"github.com/SimplyPrint/spooltag/internal/mifare"
	"github.com/SimplyPrint/spooltag/internal/openprinttag"
	"github.com/SimplyPrint/spooltag/internal/repair"
	"github.com/SimplyPrint/spooltag/internal/settings"
	"github.com/SimplyPrint/spooltag/internal/tagfile"
)

// Version information (set via ldflags in production builds)
var (
	Version   = ""
	BuildTime = ""
	GitCommit = ""
)

func init() {
	// If version wasn't set via ldflags, this is a dev build
	if Version == "" {
		Version = "dev"
		if info, ok := debug.ReadBuildInfo(); ok {
			var vcsRevision, vcsTime string
			var vcsModified bool
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs.revision":
					vcsRevision = setting.Value
				case "vcs.time":
					vcsTime = setting.Value
				case "vcs.modified":
					vcsModified = setting.Value == "true"
				}
			}
			if vcsRevision != "" {
				shortCommit := vcsRevision
				if len(shortCommit) > 7 {
					shortCommit = shortCommit[:7]
				}
				GitCommit = vcsRevision
				Version = "dev-" + shortCommit
				if vcsModified {
					Version += "-dirty"
				}
			}
			if vcsTime != "" {
				BuildTime = vcsTime
			}
		}
	}
}

// maxBodySize bounds uploaded representations. NFC text of a full 1K tag is
// well under this.
const maxBodySize = 64 * 1024

// shutdownHandler is called when a shutdown is requested via API
var shutdownHandler func()

// SetShutdownHandler sets the callback for shutdown requests
func SetShutdownHandler(handler func()) {
	shutdownHandler = handler
}

var (
	libraryMu           sync.RWMutex
	defaultLibraryDir   string
	defaultCreateParsed bool
)

// SetLibraryDefaults sets the directory and parsed-summary option used by
// library sync requests that do not name their own.
func SetLibraryDefaults(dir string, createParsed bool) {
	libraryMu.Lock()
	defaultLibraryDir = dir
	defaultCreateParsed = createParsed
	libraryMu.Unlock()
}

func libraryDefaults() (string, bool) {
	libraryMu.RLock()
	defer libraryMu.RUnlock()
	return defaultLibraryDir, defaultCreateParsed
}

// NewMux constructs and returns the HTTP mux for the API.
func NewMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/version", corsMiddleware(handleVersion))
	mux.HandleFunc("/v1/health", corsMiddleware(handleHealth))
	mux.HandleFunc("/v1/logs", corsMiddleware(handleLogs))
	mux.HandleFunc("/v1/settings", corsMiddleware(handleSettings))
	mux.HandleFunc("/v1/shutdown", corsMiddleware(handleShutdown))
	mux.HandleFunc("/v1/dump/parse", corsMiddleware(handleParseDump))
	mux.HandleFunc("/v1/dump/repair", corsMiddleware(handleRepairDump))
	mux.HandleFunc("/v1/dump/convert", corsMiddleware(handleConvertDump))
	mux.HandleFunc("/v1/keys", corsMiddleware(handleKeys))
	mux.HandleFunc("/v1/library/sync", corsMiddleware(handleLibrarySync))
	return mux
}

// recoveryMiddleware catches panics and logs them to crash files.
func recoveryMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				stack := debug.Stack()
				context := fmt.Sprintf("HTTP %s %s", r.Method, r.URL.Path)

				logging.CapturePanic(rec, stack, context)

				logging.Error(logging.CatHTTP, fmt.Sprintf("PANIC in %s: %v", context, rec), map[string]any{
					"panic":  fmt.Sprintf("%v", rec),
					"stack":  string(stack),
					"method": r.Method,
					"path":   r.URL.Path,
				})

				crashFile, err := logging.WriteCrashLog(context, rec, stack)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Failed to write crash log: %v\n", err)
					crashFile = ""
				}

				fmt.Fprintf(os.Stderr, "\n=== PANIC in %s ===\n%v\n\nStack trace:\n%s\n", context, rec, string(stack))

				respondJSON(w, http.StatusInternalServerError, map[string]string{
					"error":     "internal server error",
					"crashFile": crashFile,
				})
			}
		}()
		next(w, r)
	}
}

// corsMiddleware adds CORS headers to allow browser access from any origin.
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Expose-Headers", "X-Repaired-Count")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		recoveryMiddleware(next)(w, r)
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data) // header already sent
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func respondBytes(w http.ResponseWriter, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// contentTypes maps each output format to its response Content-Type.
var contentTypes = map[string]string{
	"dump":   "application/octet-stream",
	"key":    "application/octet-stream",
	"json":   "application/json",
	"nfc":    "text/plain; charset=utf-8",
	"parsed": "text/plain; charset=utf-8",
	"opt":    openprinttag.MIMEType,
}

// readDump decodes the request body as the representation named by the "from"
// query parameter (default: raw dump).
func readDump(r *http.Request) (*mifare.Dump, error) {
	from := tagfile.KindDump
	if s := r.URL.Query().Get("from"); s != "" {
		k, ok := tagfile.ParseKind(s)
		if !ok || !k.Authoritative() {
			return nil, fmt.Errorf("from must be 'dump', 'json' or 'nfc'")
		}
		from = k
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if len(body) > maxBodySize {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxBodySize)
	}
	return tagfile.Decode(from, body)
}

// convert renders d in one of the tag file formats or as an OpenPrintTag payload.
func convert(d *mifare.Dump, to string) ([]byte, error) {
	if to == "opt" {
		opt, err := openprinttag.FromFilament(filament.Decode(d))
		if err != nil {
			return nil, err
		}
		return opt.Encode()
	}
	k, ok := tagfile.ParseKind(to)
	if !ok {
		return nil, fmt.Errorf("to must be one of dump, key, json, nfc, parsed, opt")
	}
	return tagfile.Encode(k, d)
}

// parseResult is the response of a dump parse.
type parseResult struct {
	Document *tagfile.Document `json:"document"`
	Filament filament.Record   `json:"filament"`
}

func parseDump(d *mifare.Dump) parseResult {
	return parseResult{
		Document: tagfile.NewDocument(d),
		Filament: filament.Decode(d),
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"version":   Version,
		"buildTime": BuildTime,
		"gitCommit": GitCommit,
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	dir, _ := libraryDefaults()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"library": dir,
	})
}

func handleParseDump(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	d, err := readDump(r)
	if err != nil {
		logging.Debug(logging.CatHTTP, "Dump parse failed", map[string]any{
			"error": err.Error(),
		})
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := parseDump(d)
	logging.Info(logging.CatCodec, "Dump parsed", map[string]any{
		"uid":  res.Filament.UID,
		"type": res.Filament.FilamentType,
	})
	respondJSON(w, http.StatusOK, res)
}

func handleRepairDump(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	d, err := readDump(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	fixes := repair.Dump(d)
	logging.Info(logging.CatRepair, "Dump repaired", map[string]any{
		"uid":   mifare.HexString(d.UID(), false),
		"fixes": len(fixes),
	})

	w.Header().Set("X-Repaired-Count", strconv.Itoa(len(fixes)))
	respondBytes(w, contentTypes["dump"], d.Bytes())
}

func handleConvertDump(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	to := strings.ToLower(r.URL.Query().Get("to"))
	contentType, ok := contentTypes[to]
	if !ok {
		respondError(w, http.StatusBadRequest, "to must be one of dump, key, json, nfc, parsed, opt")
		return
	}

	d, err := readDump(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := convert(d, to)
	if err != nil {
		logging.Error(logging.CatCodec, "Conversion failed", map[string]any{
			"to":    to,
			"error": err.Error(),
		})
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondBytes(w, contentType, out)
}

// keysResponse lists derived keys as uppercase hex.
type keysResponse struct {
	UID string       `json:"uid"`
	A   []mifare.Key `json:"a"`
	B   []mifare.Key `json:"b"`
}

func deriveKeys(uidHex string) (*keysResponse, error) {
	uid, err := keys.ParseUID(uidHex)
	if err != nil {
		return nil, err
	}
	set := keys.Derive(uid)
	return &keysResponse{
		UID: mifare.HexString(uid, false),
		A:   set.A[:],
		B:   set.B[:],
	}, nil
}

func handleKeys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	resp, err := deriveKeys(r.URL.Query().Get("uid"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// syncRequest is the body of a library sync. Create defaults to true.
type syncRequest struct {
	Dir          string `json:"dir"`
	Create       *bool  `json:"create"`
	CreateParsed *bool  `json:"createParsed"`
}

func (req syncRequest) resolve() (string, library.Options, error) {
	dir, createParsed := libraryDefaults()
	if req.Dir != "" {
		dir = req.Dir
	}
	if dir == "" {
		return "", library.Options{}, errors.New("dir is required (no default library configured)")
	}

	opts := library.Options{Create: true, CreateParsed: createParsed}
	if req.Create != nil {
		opts.Create = *req.Create
	}
	if req.CreateParsed != nil {
		opts.CreateParsed = *req.CreateParsed
	}
	return dir, opts, nil
}

func syncLibrary(req syncRequest) (*library.Report, error) {
	dir, opts, err := req.resolve()
	if err != nil {
		return nil, err
	}
	report, err := library.Sync(dir, opts)
	if err != nil {
		return nil, err
	}
	if wsHub != nil {
		wsHub.Broadcast("library_synced", map[string]interface{}{
			"dir":     report.Dir,
			"created": len(report.Created()),
			"issues":  len(report.Issues()),
		})
	}
	return report, nil
}

func handleLibrarySync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	var req syncRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	report, err := syncLibrary(req)
	if err != nil {
		logging.Error(logging.CatLibrary, "Library sync failed", map[string]any{
			"dir":   req.Dir,
			"error": err.Error(),
		})
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	if shutdownHandler == nil {
		respondError(w, http.StatusServiceUnavailable, "shutdown not available")
		return
	}

	logging.Info(logging.CatSystem, "Shutdown requested via API", nil)
	respondJSON(w, http.StatusOK, map[string]string{
		"success": "shutting down",
	})

	go shutdownHandler()
}

func handleLogs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()

		// Limit (default 100, max 1000)
		limit := 100
		if limitStr := query.Get("limit"); limitStr != "" {
			if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
				limit = l
				if limit > 1000 {
					limit = 1000
				}
			}
		}

		var minLevel *logging.Level
		if levelStr := query.Get("level"); levelStr != "" {
			if l, ok := logging.ParseLevel(levelStr); ok {
				minLevel = &l
			}
		}

		var category *logging.Category
		if catStr := query.Get("category"); catStr != "" {
			c := logging.Category(catStr)
			category = &c
		}

		respondJSON(w, http.StatusOK, map[string]interface{}{
			"entries": logging.Get().GetEntries(limit, minLevel, category),
			"stats":   logging.Get().Stats(),
		})

	case http.MethodDelete:
		logging.Get().Clear()
		respondJSON(w, http.StatusOK, map[string]string{
			"success": "logs cleared",
		})

	default:
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

// handleSettings handles GET and POST requests for user settings.
func handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		respondJSON(w, http.StatusOK, settings.Get())

	case http.MethodPost:
		var req struct {
			CrashReporting *bool `json:"crashReporting"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}

		if req.CrashReporting != nil {
			if err := settings.SetCrashReporting(*req.CrashReporting); err != nil {
				respondError(w, http.StatusInternalServerError, "failed to save settings: "+err.Error())
				return
			}
		}

		respondJSON(w, http.StatusOK, map[string]interface{}{
			"crashReporting": settings.IsCrashReportingEnabled(),
			"message":        "Settings updated. Restart may be required for some changes to take effect.",
		})

	default:
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}
