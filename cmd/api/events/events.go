package events

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apppkg "github.com/wbrunovieira/WB-project-manager-sub000/cmd/api/app"
)

// Envelope is the standardized event payload sent to clients.
type Envelope struct {
	Type    string          `json:"type"`
	IssueID string          `json:"issue_id"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Stream sends a workspace's issue events using Server-Sent Events. It
// resumes after the Last-Event-ID header and emits periodic heartbeat
// comments to keep connections alive.
func Stream(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.DB == nil {
			c.Status(http.StatusOK)
			return
		}
		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Content-Type-Options", "nosniff")

		flusher, ok := c.Writer.(http.Flusher)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}

		ctx := c.Request.Context()
		workspace := c.Param("id")

		last := time.Time{}
		lastID := ""
		if id := c.GetHeader("Last-Event-ID"); id != "" {
			if err := a.DB.QueryRow(ctx, `select created_at from issue_events where id=$1`, id).Scan(&last); err == nil {
				lastID = id
			}
		}

		send := func() {
			rows, err := a.DB.Query(ctx, `select id::text, issue_id::text, event_type, payload, created_at from issue_events
where workspace_id=$3 and (created_at > $1 or (created_at = $1 and id::text > $2))
order by created_at asc, id asc`, last, lastID, workspace)
			if err != nil {
				return
			}
			defer rows.Close()
			for rows.Next() {
				var id, issueID, typ string
				var payload []byte
				var ts time.Time
				if err := rows.Scan(&id, &issueID, &typ, &payload, &ts); err != nil {
					continue
				}
				b, _ := json.Marshal(Envelope{Type: typ, IssueID: issueID, Data: payload})
				fmt.Fprintf(c.Writer, "id: %s\n", id)
				fmt.Fprintf(c.Writer, "event: %s\n", typ)
				fmt.Fprintf(c.Writer, "data: %s\n\n", b)
				flusher.Flush()
				last, lastID = ts, id
			}
		}

		send()

		poll := time.NewTicker(time.Second)
		heart := time.NewTicker(25 * time.Second)
		defer poll.Stop()
		defer heart.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-poll.C:
				send()
			case <-heart.C:
				fmt.Fprint(c.Writer, ": heartbeat\n\n")
				flusher.Flush()
			}
		}
	}
}
