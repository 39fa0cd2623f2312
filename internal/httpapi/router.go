// Package httpapi exposes a read-only debug/status HTTP surface over the
// session registry, adapted from this codebase's gin-based session control
// API: same SetupRouter/corsMiddleware/gin.New()+Recovery() shape, narrowed
// to status/health/metrics endpoints since playback control itself flows
// through voice-gateway commands, not HTTP.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/duskbot/vocalcore/internal/playback"
)

// API serves read-only status over the playback registry.
type API struct {
	registry *playback.Registry
}

// NewAPI creates an API bound to registry.
func NewAPI(registry *playback.Registry) *API {
	return &API{registry: registry}
}

// SetupRouter builds the gin engine: health, metrics, and per-guild status.
func SetupRouter(api *API, environment string) *gin.Engine {
	if environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	guild := r.Group("/guilds/:id")
	{
		guild.GET("/status", api.Status)
		guild.GET("/queue", api.Queue)
		guild.GET("/history", api.History)
	}
	r.GET("/guilds", api.ListGuilds)

	return r
}

// corsMiddleware handles CORS for a browser-based dashboard.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// StatusResponse is one guild's now-playing status.
type StatusResponse struct {
	GuildID      string `json:"guildId"`
	Found        bool   `json:"found"`
	CurrentTitle string `json:"currentTitle,omitempty"`
	CurrentURL   string `json:"currentUrl,omitempty"`
	PlayIndex    int    `json:"playIndex"`
	QueueLen     int    `json:"queueLen"`
	Paused       bool   `json:"paused"`
	Loop         bool   `json:"loop"`
	Fade         bool   `json:"fade"`
	Crossfading  bool   `json:"crossfading"`
	Deck         string `json:"deck"`
	MixerAlive   bool   `json:"mixerAlive"`
	ElapsedMS    int64  `json:"elapsedMs"`
	Version      uint64 `json:"version"`
}

// Status reports a single guild's current playback state.
func (a *API) Status(c *gin.Context) {
	guildID := c.Param("id")
	gs, ok := a.registry.Get(guildID)
	if !ok {
		c.JSON(http.StatusNotFound, StatusResponse{GuildID: guildID, Found: false})
		return
	}

	resp := StatusResponse{
		GuildID:     guildID,
		Found:       true,
		PlayIndex:   gs.Session.PlayIndex(),
		QueueLen:    gs.Session.QueueLen(),
		Paused:      gs.Session.IsPaused(),
		Loop:        gs.Session.LoopEnabled(),
		Fade:        gs.Session.FadeEnabled(),
		Crossfading: gs.Session.IsCrossfading(),
		Deck:        string(gs.Session.CurrentDeck()),
		MixerAlive:  gs.Mixer.IsAlive(),
		Version:     gs.Session.Version.Current(),
	}
	if song, ok := gs.Session.CurrentSong(); ok {
		resp.CurrentTitle = song.Title
		resp.CurrentURL = song.URL
	}
	if start := gs.Session.SongStartTime(); !start.IsZero() {
		resp.ElapsedMS = time.Since(start).Milliseconds()
	}

	c.JSON(http.StatusOK, resp)
}

// QueueResponse lists a guild's remaining queue.
type QueueResponse struct {
	GuildID string          `json:"guildId"`
	Songs   []playback.Song `json:"songs"`
}

// Queue returns the full queue for a guild.
func (a *API) Queue(c *gin.Context) {
	guildID := c.Param("id")
	gs, ok := a.registry.Get(guildID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	songs := make([]playback.Song, 0, gs.Session.QueueLen())
	for i := 0; i < gs.Session.QueueLen(); i++ {
		if s, ok := gs.Session.SongAt(i); ok {
			songs = append(songs, s)
		}
	}
	c.JSON(http.StatusOK, QueueResponse{GuildID: guildID, Songs: songs})
}

// History returns the session's version history, for debugging.
func (a *API) History(c *gin.Context) {
	guildID := c.Param("id")
	gs, ok := a.registry.Get(guildID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"guildId": guildID, "history": gs.Session.Version.History()})
}

// ListGuilds lists every active guild id.
func (a *API) ListGuilds(c *gin.Context) {
	all := a.registry.All()
	ids := make([]string, 0, len(all))
	for _, gs := range all {
		ids = append(ids, gs.GuildID)
	}
	c.JSON(http.StatusOK, gin.H{"guilds": ids})
}
