package progress

import (
	"sync"

	"github.com/google/uuid"

	"sermon-engine/internal/types"
)

// updateBuffer is the per-subscription channel capacity. A subscriber that
// falls this far behind starts losing the oldest pending update.
const updateBuffer = 32

// Update is one progress event on a job's stream.
type Update struct {
	SermonID string         `json:"sermon_id"`
	State    types.JobState `json:"state"`
	Fraction float64        `json:"fraction"`
}

// Subscription is one observer's ordered stream of a job's progress.
// C is closed when the job completes or the subscription is cancelled.
type Subscription struct {
	ID       string
	SermonID string
	C        <-chan Update

	publisher *Publisher
	ch        chan Update
}

// Cancel detaches this subscription only; other subscribers to the same job
// keep receiving updates.
func (s *Subscription) Cancel() {
	s.publisher.remove(s.SermonID, s.ID)
}

// Publisher multicasts per-job progress to any number of subscribers. All
// subscription bookkeeping happens under one mutex so a subscriber
// terminating concurrently with a publish cannot corrupt the set.
type Publisher struct {
	mu   sync.Mutex
	subs map[string]map[string]*Subscription
}

// NewPublisher creates an empty publisher.
func NewPublisher() *Publisher {
	return &Publisher{
		subs: make(map[string]map[string]*Subscription),
	}
}

// Subscribe registers a new observer for a job's progress stream.
func (p *Publisher) Subscribe(sermonID string) *Subscription {
	ch := make(chan Update, updateBuffer)
	sub := &Subscription{
		ID:        uuid.New().String(),
		SermonID:  sermonID,
		C:         ch,
		publisher: p,
		ch:        ch,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	bucket := p.subs[sermonID]
	if bucket == nil {
		bucket = make(map[string]*Subscription)
		p.subs[sermonID] = bucket
	}
	bucket[sub.ID] = sub
	return sub
}

// Publish multicasts an update to every live subscription for the job.
func (p *Publisher) Publish(sermonID string, state types.JobState, fraction float64) {
	update := Update{SermonID: sermonID, State: state, Fraction: fraction}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sub := range p.subs[sermonID] {
		select {
		case sub.ch <- update:
		default:
			// Slow consumer: drop the oldest pending update to keep the
			// stream moving, then deliver the newest.
			select {
			case <-sub.ch:
			default:
			}
			sub.ch <- update
		}
	}
}

// Complete terminates and removes all of a job's subscriptions.
func (p *Publisher) Complete(sermonID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sub := range p.subs[sermonID] {
		close(sub.ch)
	}
	delete(p.subs, sermonID)
}

// CompleteWithError delivers a final update at fraction 1.0 carrying the
// failed state, then terminates the stream.
func (p *Publisher) CompleteWithError(sermonID string, state types.JobState) {
	p.Publish(sermonID, state, 1.0)
	p.Complete(sermonID)
}

// remove deletes a single subscription; the job's bucket is dropped only
// once it becomes empty.
func (p *Publisher) remove(sermonID, subID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	bucket := p.subs[sermonID]
	sub, ok := bucket[subID]
	if !ok {
		return
	}
	close(sub.ch)
	delete(bucket, subID)
	if len(bucket) == 0 {
		delete(p.subs, sermonID)
	}
}

// SubscriberCount reports the live subscriptions for a job.
func (p *Publisher) SubscriberCount(sermonID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs[sermonID])
}
