package httpapi

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loqalabs/studycast/internal/playback"
)

type snapshotView struct {
	State           string  `json:"state"`
	PositionSeconds float64 `json:"position_seconds"`
	DurationSeconds float64 `json:"duration_seconds"`
	Position        string  `json:"position"`
	Duration        string  `json:"duration"`
	Rate            float64 `json:"rate"`
	Volume          float64 `json:"volume"`
	Error           string  `json:"error,omitempty"`
}

func viewSnapshot(s playback.Snapshot) snapshotView {
	v := snapshotView{
		State:           s.State.String(),
		PositionSeconds: s.Position.Seconds(),
		DurationSeconds: s.Duration.Seconds(),
		Position:        playback.FormatTime(s.Position),
		Duration:        playback.FormatTime(s.Duration),
		Rate:            s.Rate,
		Volume:          s.Volume,
	}
	if s.Err != nil {
		v.Error = s.Err.Error()
	}
	return v
}

type progressView struct {
	PositionSeconds float64 `json:"position_seconds"`
	DurationSeconds float64 `json:"duration_seconds"`
	Fraction        float64 `json:"fraction"`
	Position        string  `json:"position"`
	Duration        string  `json:"duration"`
	Remaining       string  `json:"remaining"`
}

func viewProgress(p playback.Progress) progressView {
	return progressView{
		PositionSeconds: p.Position.Seconds(),
		DurationSeconds: p.Duration.Seconds(),
		Fraction:        p.Fraction,
		Position:        p.PositionLabel,
		Duration:        p.DurationLabel,
		Remaining:       p.RemainingLabel,
	}
}

// openPlayer loads the document's current track, reloading it if the
// podcast was regenerated since the session was opened.
func (s *Server) openPlayer(c *gin.Context) {
	ctrl, err := s.deps.Players.Open(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewSnapshot(ctrl.Snapshot()))
}

// controller returns the open session or writes 404.
func (s *Server) controller(c *gin.Context) (*playback.Controller, bool) {
	ctrl, ok := s.deps.Players.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no player open for this document"})
		return nil, false
	}
	return ctrl, true
}

func (s *Server) playerSnapshot(c *gin.Context) {
	ctrl, ok := s.controller(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, viewSnapshot(ctrl.Snapshot()))
}

func (s *Server) closePlayer(c *gin.Context) {
	s.deps.Players.Release(c.Param("id"))
	c.Status(http.StatusNoContent)
}

// playerOp runs op against the open session and replies with the new
// snapshot.
func (s *Server) playerOp(c *gin.Context, op func(*playback.Controller) error) {
	ctrl, ok := s.controller(c)
	if !ok {
		return
	}
	if err := op(ctrl); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewSnapshot(ctrl.Snapshot()))
}

func (s *Server) playerPlay(c *gin.Context) {
	s.playerOp(c, (*playback.Controller).Play)
}

func (s *Server) playerPause(c *gin.Context) {
	s.playerOp(c, (*playback.Controller).Pause)
}

func (s *Server) playerToggle(c *gin.Context) {
	s.playerOp(c, (*playback.Controller).TogglePlayPause)
}

type seekRequest struct {
	Fraction *float64 `json:"fraction" binding:"required"`
}

func (s *Server) playerSeek(c *gin.Context) {
	var req seekRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.playerOp(c, func(ctrl *playback.Controller) error { return ctrl.Seek(*req.Fraction) })
}

// skipRequest moves by Seconds; negative values skip backward and zero uses
// the configured skip forward.
type skipRequest struct {
	Seconds float64 `json:"seconds"`
}

func (s *Server) playerSkip(c *gin.Context) {
	var req skipRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	s.playerOp(c, func(ctrl *playback.Controller) error {
		d := time.Duration(req.Seconds * float64(time.Second))
		if d < 0 {
			return ctrl.SkipBackward(-d)
		}
		return ctrl.SkipForward(d)
	})
}

// rateRequest selects Rate directly; omitted means cycle to the next rate.
type rateRequest struct {
	Rate *float64 `json:"rate"`
}

func (s *Server) playerRate(c *gin.Context) {
	var req rateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	s.playerOp(c, func(ctrl *playback.Controller) error {
		if req.Rate == nil {
			ctrl.CycleRate()
			return nil
		}
		return ctrl.SetRate(*req.Rate)
	})
}

type volumeRequest struct {
	Volume *float64 `json:"volume" binding:"required"`
}

func (s *Server) playerVolume(c *gin.Context) {
	var req volumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.playerOp(c, func(ctrl *playback.Controller) error {
		ctrl.SetVolume(*req.Volume)
		return nil
	})
}

// playerEvents streams progress as server-sent events until the client
// goes away or the session is closed.
func (s *Server) playerEvents(c *gin.Context) {
	ctrl, ok := s.controller(c)
	if !ok {
		return
	}
	updates, cancel := ctrl.Subscribe(32)
	defer cancel()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case p, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("progress", viewProgress(p))
			return true
		}
	})
}
