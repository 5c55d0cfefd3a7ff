package settlement

import (
	"time"

	"github.com/ksred/brokerlink-api/internal/types"
)

const (
	MsgNoTag         = "No Tag"
	MsgNoTransaction = "No Transaction Obj"
	MsgDone          = "Done"

	brokerStatusComplete = "COMPLETE"
)

// Ack is the body returned to the broker for every postback.
type Ack struct {
	Msg string `json:"msg"`
}

// PostbackLog keeps every postback body as received, whether or not it
// matched an order.
type PostbackLog struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Tag       string         `gorm:"index" json:"tag"`
	Status    string         `json:"status"`
	Payload   types.Document `gorm:"type:text" json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// fill is the confirmed execution of a COMPLETE postback.
type fill struct {
	price    *float64
	quantity int64
	amount   *float64
	payload  types.Document
}
