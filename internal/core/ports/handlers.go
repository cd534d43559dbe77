package ports

import (
	"github.com/gin-gonic/gin"
)

type AdminHandler interface {
	ListPeers(c *gin.Context)
	GetPeerStats(c *gin.Context)
	GetConversation(c *gin.Context)
	SendMessage(c *gin.Context)
	Disconnect(c *gin.Context)
}

type EventStreamHandler interface {
	HandleEvents(c *gin.Context)
}
