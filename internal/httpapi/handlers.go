package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/DoyleJ11/gamenight-bracket/internal/archive"
	"github.com/DoyleJ11/gamenight-bracket/internal/fault"
	"github.com/DoyleJ11/gamenight-bracket/internal/hub"
)

const (
	qrSize       = 320
	maxImageSize = 5 << 20
	imageAccept  = "image/avif,image/webp,image/apng,image/*,*/*;q=0.8"
)

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func ListRooms(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := h.List(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func NewCode(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code, err := h.NewCode(r.Context())
		if err != nil {
			http.Error(w, "failed to generate code", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Code string `json:"code"`
		}{Code: code})
	}
}

// RoomQR renders an invite link for the room as a PNG.
func RoomQR(publicURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code, err := hub.NormalizeCode(chi.URLParam(r, "code"))
		if err != nil {
			writeError(w, err)
			return
		}

		base := strings.TrimSuffix(publicURL, "/")
		if base == "" {
			scheme := "http"
			if r.TLS != nil {
				scheme = "https"
			}
			if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
				scheme = proto
			}
			base = scheme + "://" + r.Host
		}

		png, err := qrcode.Encode(base+"/?room="+url.QueryEscape(code), qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_, _ = w.Write(png)
	}
}

var errPrivateHost = errors.New("host resolves to a non-public address")

// publicHost fails when host resolves to a loopback, private, link-local or
// unspecified address.
func publicHost(ctx context.Context, host string) error {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return err
	}
	for _, a := range addrs {
		ip := a.IP
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
			ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast() {
			return errPrivateHost
		}
	}
	return nil
}

// ImageProxy fetches a remote cover so browsers load it from our origin.
// Unless allowPrivate is set, targets on loopback or private networks are refused.
func ImageProxy(client *http.Client, log *zap.Logger, allowPrivate bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("url")
		u, err := url.Parse(raw)
		if raw == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			http.Error(w, "bad url", http.StatusBadRequest)
			return
		}
		if !allowPrivate {
			if err := publicHost(r.Context(), u.Hostname()); err != nil {
				if errors.Is(err, errPrivateHost) {
					http.Error(w, "forbidden target", http.StatusForbidden)
					return
				}
				log.Info("image host lookup failed", zap.String("host", u.Hostname()), zap.Error(err))
				http.Error(w, "proxy error", http.StatusBadGateway)
				return
			}
		}

		req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, u.String(), nil)
		if err != nil {
			http.Error(w, "bad url", http.StatusBadRequest)
			return
		}
		req.Header.Set("User-Agent", "Mozilla/5.0")
		req.Header.Set("Accept", imageAccept)

		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			log.Info("image fetch failed", zap.String("url", u.String()), zap.Error(err))
			http.Error(w, "proxy error", http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			http.Error(w, "fetch failed", resp.StatusCode)
			return
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize+1))
		if err != nil {
			http.Error(w, "proxy error", http.StatusBadGateway)
			return
		}
		if len(body) > maxImageSize {
			http.Error(w, "image too large", http.StatusBadGateway)
			return
		}

		contentType := resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "image/jpeg"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		_, _ = w.Write(body)

		log.Debug("image proxied",
			zap.String("url", u.String()),
			zap.String("size", humanize.Bytes(uint64(len(body)))),
			zap.Duration("took", time.Since(start)))
	}
}

// Archive lists recently finished selections, newest first.
func Archive(store archive.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "archive disabled", http.StatusNotFound)
			return
		}
		limit := 0
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				http.Error(w, "bad limit", http.StatusBadRequest)
				return
			}
			limit = n
		}

		results, err := store.Recent(r.Context(), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		if results == nil {
			results = []archive.Result{}
		}
		writeJSON(w, http.StatusOK, results)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	var fe *fault.Error
	if errors.As(err, &fe) {
		msg = fe.Msg
		switch fe.Kind {
		case fault.Validation:
			status = http.StatusBadRequest
		case fault.Authorization:
			status = http.StatusForbidden
		case fault.NotFound:
			status = http.StatusNotFound
		case fault.Conflict:
			status = http.StatusConflict
		case fault.External:
			status = http.StatusBadGateway
		default:
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, struct {
		Code    fault.Kind `json:"code"`
		Message string     `json:"message"`
	}{Code: fault.KindOf(err), Message: msg})
}
