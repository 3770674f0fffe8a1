package id

import (
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node with the given node ID.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New generates a new time-ordered int64 ID.
func New() int64 {
	return node.Generate().Int64()
}

// NewString returns New() in base 10. Snapshot IDs travel to a browser popup,
// where int64 values above 2^53 lose precision, so they are always sent as strings.
func NewString() string {
	return strconv.FormatInt(New(), 10)
}
