package journal

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	idMu sync.Mutex
	mono io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptorand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	// 同一毫秒内生成的 ID 仍然单调递增
	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// newID 按时间排序的 ULID
func newID(t time.Time) (string, error) {
	idMu.Lock()
	defer idMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(t.UTC()), mono)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
