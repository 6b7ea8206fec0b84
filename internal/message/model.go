package message

// NoReply marks a top-level message.
const NoReply int64 = -1

type Message struct {
	ID                int64   `json:"id"`
	Room              string  `json:"room"`
	Author            string  `json:"author"`
	AuthorDisplayName string  `json:"authorDisplayName,omitempty"`
	Reply             int64   `json:"reply"`
	Content           string  `json:"content"`
	Time              float64 `json:"time"`
}

// NormalizeReply maps absent or non-positive reply targets to NoReply.
func NormalizeReply(reply int64) int64 {
	if reply <= 0 {
		return NoReply
	}
	return reply
}
