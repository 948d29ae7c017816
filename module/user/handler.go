package user

import (
	"net/http"

	config "ChatRelay/global/config"
	midsec "ChatRelay/middleware/security"
	errs "ChatRelay/tools/errs"
	sec "ChatRelay/tools/security"

	"github.com/gin-gonic/gin"
)

type loginReq struct {
	UserID string `json:"userId" binding:"required"`
}

// HandlerLogin issues a gateway token for the given user id. Real credential
// checking lives in the account service; this endpoint only mints the token
// the WebSocket auth frame presents.
func HandlerLogin(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errs.ErrArgs.WithDetail(err.Error()))
		return
	}

	token, hash, expireAt, err := sec.Generate(sec.DefaultOptions(config.Global.JWTSecret), req.UserID, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errs.ErrInternal.WithDetail(err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":    token,
		"hash":     hash,
		"expireAt": expireAt.UnixMilli(),
	})
}

// HandlerCheck echoes the verified identity; it exists so clients can probe
// token validity over plain HTTP.
func HandlerCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"userId": c.GetString(midsec.CtxUserIDKey),
	})
}
