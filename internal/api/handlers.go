package api

import (
	"net/http"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"

	"github.com/camlink/camlink/internal/feed"
)

// frameInfo describes the latest decoded frame without shipping pixels.
type frameInfo struct {
	Present bool `json:"present"`
	Width   int  `json:"width"`
	Height  int  `json:"height"`
}

type statusResponse struct {
	IsLoading    bool              `json:"isLoading"`
	IsStreaming  bool              `json:"isStreaming"`
	ErrorMessage string            `json:"errorMessage"`
	Frame        frameInfo         `json:"frame"`
	Session      feed.SessionStats `json:"session"`
}

func statusFromState(st feed.State, stats feed.SessionStats) statusResponse {
	resp := statusResponse{
		IsLoading:    st.IsLoading,
		IsStreaming:  st.IsStreaming,
		ErrorMessage: st.ErrorMessage,
		Session:      stats,
	}
	if st.CurrentImage != nil {
		b := st.CurrentImage.Bounds()
		resp.Frame = frameInfo{Present: true, Width: b.Dx(), Height: b.Dy()}
	}
	return resp
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, statusFromState(s.feed.State(), s.feed.Stats()))
}

// handleSnapshot re-encodes the latest decoded frame as JPEG. 404 until a
// frame has been published.
func (s *Server) handleSnapshot(c *gin.Context) {
	st := s.feed.State()
	if st.CurrentImage == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no frame available"})
		return
	}

	c.Header("Content-Type", "image/jpeg")
	c.Header("Cache-Control", "no-cache")
	if err := imaging.Encode(c.Writer, st.CurrentImage, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		s.log.Warn("snapshot encode failed", "error", err)
	}
}

type startRequest struct {
	URL string `json:"url" binding:"required"`
}

func (s *Server) handleFeedStart(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	s.feed.Start(req.URL)
	c.JSON(http.StatusAccepted, statusFromState(s.feed.State(), s.feed.Stats()))
}

func (s *Server) handleFeedStop(c *gin.Context) {
	s.feed.Stop()
	c.JSON(http.StatusOK, statusFromState(s.feed.State(), s.feed.Stats()))
}
