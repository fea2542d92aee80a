package service

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("keyedMutex", func() {
	It("serializes holders of the same key", func() {
		locks := newKeyedMutex()
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			active  int
			maxSeen int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock := locks.Lock("ticket")
				mu.Lock()
				active++
				if active > maxSeen {
					maxSeen = active
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				unlock()
			}()
		}
		wg.Wait()
		Expect(maxSeen).To(Equal(1))
		Expect(locks.size()).To(BeZero())
	})

	It("does not block other keys", func() {
		locks := newKeyedMutex()
		unlock := locks.Lock("a")
		defer unlock()

		done := make(chan struct{})
		go func() {
			locks.Lock("b")()
			close(done)
		}()
		Eventually(done).Should(BeClosed())
		Expect(locks.size()).To(Equal(1))
	})
})
