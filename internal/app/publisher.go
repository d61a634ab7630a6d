package app

import (
	"errors"
	"fmt"
)

// ErrMessageTooLarge is returned for bodies nsqd would reject.
var ErrMessageTooLarge = errors.New("message exceeds NSQ_MAX_MSG_SIZE")

type sizedPublisher struct {
	next Publisher
	max  int64
}

// limitPublisher rejects bodies larger than max before they reach nsqd.
func limitPublisher(pub Publisher, max int64) Publisher {
	if pub == nil || max <= 0 {
		return pub
	}
	return &sizedPublisher{next: pub, max: max}
}

func (p *sizedPublisher) Publish(topic string, body []byte) error {
	if int64(len(body)) > p.max {
		return fmt.Errorf("%w: %s body is %d bytes, limit %d", ErrMessageTooLarge, topic, len(body), p.max)
	}
	return p.next.Publish(topic, body)
}
