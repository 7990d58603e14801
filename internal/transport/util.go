package transport

import (
	"strconv"
	"time"
)

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func intToString(v int) string {
	return strconv.Itoa(v)
}
