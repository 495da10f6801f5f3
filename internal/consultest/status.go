package consultest

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (a *Agent) registerStatus(rg *gin.RouterGroup) {
	rg.GET("/status/leader", func(c *gin.Context) {
		a.mu.Lock()
		defer a.mu.Unlock()
		c.JSON(http.StatusOK, a.leader)
	})
	rg.GET("/status/peers", func(c *gin.Context) {
		a.mu.Lock()
		defer a.mu.Unlock()
		peers := a.peers
		if peers == nil {
			peers = []string{}
		}
		c.JSON(http.StatusOK, peers)
	})
}
