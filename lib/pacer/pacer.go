// Package pacer makes pacing and retrying backend API calls easy.
package pacer

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/qihaolou/Foxel/fs"
)

// Pacer paces operations with a truncated exponential attack and decay.
type Pacer struct {
	mu                 sync.Mutex
	minSleep           time.Duration
	maxSleep           time.Duration
	decayConstant      uint
	pacer              chan struct{}
	sleepTime          time.Duration
	retries            int
	consecutiveRetries int
}

// Paced is a function called by Call. It returns a boolean, true if it
// would like to be retried, and an error.
type Paced func() (bool, error)

// New returns a Pacer with sensible defaults.
func New() *Pacer {
	p := &Pacer{
		minSleep:      10 * time.Millisecond,
		maxSleep:      2 * time.Second,
		decayConstant: 2,
		retries:       5,
		pacer:         make(chan struct{}, 1),
	}
	p.sleepTime = p.minSleep
	// Put the first pacing token in.
	p.pacer <- struct{}{}
	return p
}

// SetMinSleep sets the minimum sleep time for the pacer.
func (p *Pacer) SetMinSleep(t time.Duration) *Pacer {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.minSleep = t
	p.sleepTime = p.minSleep
	return p
}

// SetMaxSleep sets the maximum sleep time for the pacer.
func (p *Pacer) SetMaxSleep(t time.Duration) *Pacer {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxSleep = t
	p.sleepTime = p.minSleep
	return p
}

// SetRetries sets the max number of tries for Call.
func (p *Pacer) SetRetries(retries int) *Pacer {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retries = retries
	return p
}

// beginCall waits for the pacer token and schedules its return after the
// current sleep time.
func (p *Pacer) beginCall() {
	<-p.pacer
	p.mu.Lock()
	go func(t time.Duration) {
		time.Sleep(t)
		p.pacer <- struct{}{}
	}(p.sleepTime)
	p.mu.Unlock()
}

// endCall updates the sleep time: double it on retry up to maxSleep,
// decay it towards minSleep on success.
func (p *Pacer) endCall(again bool) {
	p.mu.Lock()
	if again {
		p.consecutiveRetries++
		p.sleepTime *= 2
		if p.sleepTime > p.maxSleep {
			p.sleepTime = p.maxSleep
		}
		fs.Debugf("pacer", "rate limited, increasing sleep to %v", p.sleepTime)
	} else {
		p.consecutiveRetries = 0
		p.sleepTime = (p.sleepTime<<p.decayConstant - p.sleepTime) >> p.decayConstant
		if p.sleepTime < p.minSleep {
			p.sleepTime = p.minSleep
		}
	}
	p.mu.Unlock()
}

// Call paces fn and retries it while it asks for a retry, up to the
// configured number of tries.
func (p *Pacer) Call(fn Paced) (err error) {
	p.mu.Lock()
	retries := p.retries
	p.mu.Unlock()
	var again bool
	for i := 0; i < retries; i++ {
		p.beginCall()
		again, err = fn()
		p.endCall(again)
		if !again {
			break
		}
	}
	return err
}

// RetryErrorCodes is the set of HTTP statuses worth retrying.
var RetryErrorCodes = []int{
	429, // Too Many Requests
	500, // Internal Server Error
	502, // Bad Gateway
	503, // Service Unavailable
	504, // Gateway Timeout
	509, // Bandwidth Limit Exceeded
}

// ShouldRetryHTTP is the retry decision for a rest call: stop on context
// cancellation, retry the usual transient statuses and transport errors.
func ShouldRetryHTTP(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if resp != nil {
		for _, code := range RetryErrorCodes {
			if resp.StatusCode == code {
				return true, err
			}
		}
		return false, err
	}
	if err != nil {
		return true, err
	}
	return false, nil
}
