package store_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alwitt/stockpile/store"
	"github.com/stretchr/testify/assert"
)

func TestWriteGateExclusion(t *testing.T) {
	assert := assert.New(t)

	uut := store.NewWriteGate()

	var shared atomic.Int32
	var violations atomic.Int32
	var wg sync.WaitGroup

	for idx := 0; idx < 8; idx++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for round := 0; round < 20; round++ {
				_ = uut.RunShared(func() error {
					shared.Add(1)
					time.Sleep(100 * time.Microsecond)
					shared.Add(-1)
					return nil
				})
			}
		}()
	}
	for idx := 0; idx < 3; idx++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for round := 0; round < 5; round++ {
				_ = uut.RunExclusive(func() error {
					if shared.Load() != 0 {
						violations.Add(1)
					}
					time.Sleep(200 * time.Microsecond)
					if shared.Load() != 0 {
						violations.Add(1)
					}
					return nil
				})
			}
		}()
	}
	wg.Wait()
	assert.Equal(int32(0), violations.Load())
}
