package models

// Request filter kinds stored in the type column.
const (
	FilterTypeAddr = "addr"
	FilterTypeNet  = "net"
	FilterTypeMIME = "mime"
	FilterTypeUA   = "ua"
)

// RequestFilter is a moderation rule. Which of Addr, Net or Regex is set
// depends on Type.
type RequestFilter struct {
	ID      uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Type    string    `gorm:"column:type;size:20;index;not null" json:"type"`
	Comment string    `gorm:"column:comment;type:text" json:"comment,omitempty"`
	Addr    IPAddr    `gorm:"column:addr" json:"addr,omitempty"`
	Net     IPNetwork `gorm:"column:net;size:64" json:"net,omitempty"`
	Regex   *string   `gorm:"column:regex;type:text" json:"regex,omitempty"`
}

func (RequestFilter) TableName() string { return "request_filter" }
