package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/gamenight-bracket/internal/archive"
	"github.com/DoyleJ11/gamenight-bracket/internal/hub"
	"github.com/DoyleJ11/gamenight-bracket/internal/logging"
	"github.com/DoyleJ11/gamenight-bracket/internal/ws"
)

type Deps struct {
	Hub       *hub.Hub
	WS        ws.Deps
	Archive   archive.Store // nil disables /archive
	Client    *http.Client  // used by the image proxy
	PublicURL string
	Log       *zap.Logger

	AllowPrivateImages bool // let /img fetch loopback and private hosts
}

func SetupRoutes(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Client == nil {
		d.Client = &http.Client{Timeout: 15 * time.Second}
	}
	if d.WS.Hub == nil {
		d.WS.Hub = d.Hub
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Requests(d.Log.Named("http")))
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(d.WS))
	r.Get("/rooms", ListRooms(d.Hub))
	r.Get("/rooms/code", NewCode(d.Hub))
	r.Get("/rooms/{code}/qr", RoomQR(d.PublicURL))
	r.Get("/img", ImageProxy(d.Client, d.Log.Named("img"), d.AllowPrivateImages))
	r.Get("/archive", Archive(d.Archive))
	return r
}
