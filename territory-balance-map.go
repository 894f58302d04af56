package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"embed"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"html/template"
	"image/color"
	"io"
	"io/fs"
	"log"
	"math/rand"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/acme/autocert"

	"territory-balance-map/pkg/api"
	"territory-balance-map/pkg/geoload"
	"territory-balance-map/pkg/logger"
	"territory-balance-map/pkg/qrshare"
)

//go:embed public_html/*
var content embed.FS

var domain = flag.String("domain", "", "Use 80 and 443 ports. Automatic HTTPS cert via Let's Encrypt.")
var port = flag.Int("port", 8765, "Port for running the server")
var defaultFile = flag.String("default-file", filepath.Join("out", "run_001", "territories.geojson"), "Fallback territories GeoJSON shown when nothing was uploaded")
var defaultLat = flag.Float64("default-lat", 0, "Map latitude when the dataset has no usable centroid")
var defaultLon = flag.Float64("default-lon", 0, "Map longitude when the dataset has no usable centroid")
var defaultZoom = flag.Int("default-zoom", 6, "Default map zoom")
var version = flag.Bool("version", false, "Show the application version")

var CompileVersion = "dev"

const maxUploadBytes = 100 << 20

var limiter *api.RateLimiter

// defaultLoad reads the fallback file fresh. Every page load recomputes
// the summary, so editing the file on disk shows up on the next refresh.
func defaultLoad() (*geoload.Dataset, error) {
	return geoload.Load(geoload.Config{FallbackPath: *defaultFile}, log.Printf)
}

func withServerHeader(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "territory-balance-map/"+CompileVersion)

		if r.Method == http.MethodHead && r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// serveWithDomain runs:
//   - :80  — ACME HTTP-01 challenge + 301 redirect to https://<domain>/…
//   - :443 — HTTPS with automatic Let's Encrypt certificates.
//
// If autocert cannot issue a certificate for a host/SNI, the previously
// obtained fallback certificate is served instead, so bare-IP visitors
// get a page rather than a handshake error. All errors are only logged.
func serveWithDomain(domain string, handler http.Handler) {
	certMgr := &autocert.Manager{
		Prompt: autocert.AcceptTOS,
		Cache:  autocert.DirCache("certs"),
		HostPolicy: func(ctx context.Context, host string) error {
			if host == domain || host == "www."+domain {
				return nil
			}
			// IP address: don't block, just don't request a cert.
			if net.ParseIP(host) != nil {
				return nil
			}
			return errors.New("acme/autocert: host not configured")
		},
	}

	go func() {
		mux80 := http.NewServeMux()
		mux80.Handle("/.well-known/acme-challenge/", certMgr.HTTPHandler(nil))
		mux80.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			target := "https://" + domain + r.URL.RequestURI()
			http.Redirect(w, r, target, http.StatusMovedPermanently)
		})

		log.Printf("HTTP  server (ACME+redirect) ➜ :80")
		if err := (&http.Server{
			Addr:              ":80",
			Handler:           mux80,
			ReadHeaderTimeout: 10 * time.Second,
		}).ListenAndServe(); err != nil {
			log.Printf("HTTP  server error: %v", err)
		}
	}()

	// Daily renewal check keeps the cert warm without restarting.
	go func() {
		t := time.NewTicker(24 * time.Hour)
		defer t.Stop()
		for range t.C {
			if _, err := certMgr.GetCertificate(&tls.ClientHelloInfo{ServerName: domain}); err != nil {
				log.Printf("autocert renewal check: %v", err)
			}
		}
	}()

	tlsCfg := certMgr.TLSConfig()

	var defaultCert *tls.Certificate
	go func() {
		for defaultCert == nil {
			if c, err := certMgr.GetCertificate(&tls.ClientHelloInfo{ServerName: domain}); err == nil {
				defaultCert = c
			}
			time.Sleep(time.Minute)
		}
	}()
	tlsCfg.GetCertificate = func(chi *tls.ClientHelloInfo) (*tls.Certificate, error) {
		c, err := certMgr.GetCertificate(chi)
		if err == nil {
			return c, nil
		}
		if defaultCert != nil {
			return defaultCert, nil
		}
		return nil, err
	}

	log.Printf("HTTPS server for %s ➜ :443", domain)
	if err := (&http.Server{
		Addr:              ":443",
		Handler:           handler,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
	}).ListenAndServeTLS("", ""); err != nil {
		log.Printf("HTTPS server error: %v", err)
	}
}

// logL formats "[loadID][component] …" and hands it to the logger, which
// decides whether to buffer or print straight away.
func logL(loadID, component, format string, v ...any) {
	line := fmt.Sprintf("[%-6s][%s] %s", loadID, component, fmt.Sprintf(format, v...))
	logger.Append(loadID, line)
}

// isClientDisconnect returns true for network errors indicating that the
// client has gone away (browser navigated off or closed the tab) while we
// were writing the response. Normal, not worth an error line.
func isClientDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset by peer")
}

// GenerateLoadID returns a short base62 id for one load: millisecond
// timestamp encoded, padded with random characters.
func GenerateLoadID() string {
	const base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	const maxLength = 6

	timestamp := uint64(time.Now().UnixNano() / 1e6)
	encoded := ""
	base := uint64(len(base62Chars))

	for timestamp > 0 && len(encoded) < maxLength {
		remainder := timestamp % base
		encoded = string(base62Chars[remainder]) + encoded
		timestamp = timestamp / base
	}
	for len(encoded) < maxLength {
		encoded += string(base62Chars[rand.Intn(len(base62Chars))])
	}
	return encoded
}

// =====================
// WEB — main map page
// =====================
func mapHandler(w http.ResponseWriter, r *http.Request) {
	tmpl := template.Must(template.New("map.html").Funcs(template.FuncMap{
		// template.JS so the config lands in the script block as an
		// object literal, not an escaped string.
		"toJSON": func(data interface{}) (template.JS, error) {
			b, err := json.Marshal(data)
			return template.JS(b), err
		},
	}).ParseFS(content, "public_html/map.html"))

	if CompileVersion == "dev" {
		CompileVersion = "latest"
	}

	_, statErr := os.Stat(*defaultFile)
	data := struct {
		Version     string
		DefaultLat  float64
		DefaultLon  float64
		DefaultZoom int
		DefaultFile string
		HasDefault  bool
	}{
		Version:     CompileVersion,
		DefaultLat:  *defaultLat,
		DefaultLon:  *defaultLon,
		DefaultZoom: *defaultZoom,
		DefaultFile: *defaultFile,
		HasDefault:  statErr == nil,
	}

	// Render into a buffer so a template error never splits WriteHeader.
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		log.Printf("Error executing template: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := buf.WriteTo(w); err != nil {
		if isClientDisconnect(err) {
			log.Printf("client disconnected while writing response")
		} else {
			log.Printf("Error writing response: %v", err)
		}
	}
}

// =====================
// WEB — upload
// =====================
// uploadHandler accepts one territories GeoJSON, runs the full
// load-aggregate pass and answers with the same payload /api/features
// serves, so the browser can render without a second round trip. Nothing
// is kept server-side; every upload is an independent, stateless pass.
func uploadHandler(w http.ResponseWriter, r *http.Request) {
	permit, err := limiter.Acquire(r.Context(), api.ClientIP(r), api.RequestHeavy)
	if err != nil {
		http.Error(w, "rate limit", http.StatusTooManyRequests)
		return
	}
	defer permit.Release()

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "multipart parse error", http.StatusBadRequest)
		return
	}
	file, fh, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "no file selected", http.StatusBadRequest)
		return
	}
	defer file.Close()

	loadID := GenerateLoadID()
	logger.Begin(loadID)
	logL(loadID, "Upload", "▶ start: %s (%d bytes)", fh.Filename, fh.Size)

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		logger.FlushError(loadID, fmt.Errorf("read upload %s: %w", fh.Filename, err))
		http.Error(w, "could not read uploaded file", http.StatusBadRequest)
		return
	}
	if len(data) > maxUploadBytes {
		logger.FlushError(loadID, fmt.Errorf("upload %s exceeds %d bytes", fh.Filename, maxUploadBytes))
		http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
		return
	}

	// Accept .geojson/.json by extension, otherwise sniff for a
	// FeatureCollection before bothering the parser.
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if ext != ".geojson" && ext != ".json" {
		head := data
		if len(head) > 1024 {
			head = head[:1024]
		}
		if !bytes.Contains(head, []byte("FeatureCollection")) {
			logL(loadID, "Upload", "unsupported file type: %s (ext=%q)", fh.Filename, ext)
			logger.FlushError(loadID, fmt.Errorf("unsupported file type %q", ext))
			http.Error(w, "unsupported file type: upload a territories GeoJSON", http.StatusBadRequest)
			return
		}
		logL(loadID, "Upload", "sniffed FeatureCollection content for %s (ext=%q)", fh.Filename, ext)
	}

	ds, err := geoload.Load(geoload.Config{Upload: data, UploadName: fh.Filename}, func(format string, v ...any) {
		logL(loadID, "Load", format, v...)
	})
	if err != nil {
		logger.FlushError(loadID, err)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	view := api.BuildView(ds)
	if view.Status == "empty" {
		logL(loadID, "Upload", "file parsed but contains no features")
	} else {
		logL(loadID, "Upload", "aggregated %d features into %d territories", len(ds.Features), view.Territories)
	}
	logger.Success(loadID, fh.Filename)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(view); err != nil {
		if isClientDisconnect(err) {
			log.Printf("client disconnected while writing upload response")
		} else {
			log.Printf("upload response write error: %v", err)
		}
	}
}

// =====================
// WEB — share QR
// =====================
func qrPngHandler(w http.ResponseWriter, r *http.Request) {
	u := r.URL.Query().Get("u")
	if u == "" {
		if ref := r.Referer(); ref != "" {
			u = ref
		} else {
			scheme := "http"
			if r.TLS != nil {
				scheme = "https"
			}
			u = scheme + "://" + r.Host + r.URL.RequestURI()
		}
	}
	if len(u) > 4096 {
		u = u[:4096]
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Disposition", "inline; filename=\"qr.png\"")

	opts := qrshare.Options{
		TargetPx: 1000,
		Fg:       color.RGBA{0, 0, 0, 255},
		Bg:       color.RGBA{255, 255, 255, 255},
		Badge:    color.RGBA{0x2C, 0x7B, 0xB6, 255}, // scale blue
	}
	if err := qrshare.EncodePNG(w, []byte(u), opts); err != nil {
		http.Error(w, "QR encode: "+err.Error(), http.StatusInternalServerError)
		return
	}
}

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("territory-balance-map version %s\n", CompileVersion)
		return
	}

	if *domain != "" && runtime.GOOS != "windows" && os.Geteuid() != 0 {
		log.Println("⚠  Binding to :80 / :443 requires super-user rights; run with sudo or as root.")
	}

	staticFS, err := fs.Sub(content, "public_html")
	if err != nil {
		log.Fatalf("static fs: %v", err)
	}

	limiter = api.NewRateLimiter(2 * time.Second)

	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/",
		http.FileServer(http.FS(staticFS))))
	mux.HandleFunc("/", mapHandler)
	mux.HandleFunc("/upload", uploadHandler)
	mux.HandleFunc("/qrpng", qrPngHandler)
	api.NewHandler(defaultLoad, limiter, log.Printf).Register(mux)

	rootHandler := withServerHeader(mux)

	if *domain != "" {
		go serveWithDomain(*domain, rootHandler)
	} else {
		addr := fmt.Sprintf(":%d", *port)
		go func() {
			log.Printf("HTTP server ➜ http://localhost%s", addr)
			if err := http.ListenAndServe(addr, rootHandler); err != nil {
				log.Printf("HTTP server error: %v", err)
			}
		}()
	}

	if _, err := os.Stat(*defaultFile); err == nil {
		log.Printf("default dataset: %s", *defaultFile)
	} else {
		log.Printf("no default dataset at %s; waiting for uploads", *defaultFile)
	}

	// Keep the main goroutine alive.
	select {}
}
