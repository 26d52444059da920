package paas

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func RegisterDocs(r *gin.Engine) {
	r.GET("/docs", func(c *gin.Context) {
		c.Header("Content-Type", "text/markdown; charset=utf-8")
		c.String(http.StatusOK, `# Auction House

Single-lane NFT auction venue. One auction runs at a time; an operator
moderates applications and drives the lane.

## Auth

- POST /api/v1/auth/challenge {address}
- POST /api/v1/auth/login {address, signature}

Use the returned token as a Bearer token. Admin routes require the token of
the configured admin address.

## Public

- GET /healthz
- GET /readyz
- GET /metrics
- GET /api/v1/live
- GET /api/v1/live/ws
- GET /api/v1/auctions
- GET /api/v1/auctions/:id
- GET /api/v1/auctions/:id/bids

## Sellers and bidders

- POST /api/v1/deposits/prepare, /api/v1/deposits/execute
- POST /api/v1/auctions/:id/cancel-request
- POST /api/v1/auctions/:id/bids/prepare, /api/v1/auctions/:id/bids/execute
- GET /api/v1/me/auctions

## Admin

- POST /api/v1/admin/auctions/:id/{approve,reject,approve-cancel,deny-cancel,priority,activate,end,release-funds,release-nft,delist}
- POST /api/v1/admin/activate-next
- POST /api/v1/admin/sweep
- GET /api/v1/admin/slot, /api/v1/admin/queue
- GET /api/v1/admin/divergences, POST /api/v1/admin/divergences/:id/resolve
- GET/PUT /api/v1/admin/system-settings
- GET /swagger/index.html
`)
	})
}
