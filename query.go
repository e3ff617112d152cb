package pgwire

import (
	"context"
	"fmt"
	"time"

	"github.com/jeelkantaria/pgwire/wire"
)

// Result is the outcome of a simple query. A simple Query may run several
// ';'-separated statements; each RowDescription resets Fields and Rows, so
// Result holds the rows of the last statement that returned a row set (a
// later statement without one, such as an UPDATE, leaves them in place),
// with CommandTag set by whichever CommandComplete arrived most recently.
type Result struct {
	Fields     []wire.FieldDescription
	Rows       [][]wire.Value
	CommandTag string
}

// Query runs sql as a simple Query message and blocks until the backend
// returns to ReadyForQuery. ctx's deadline, if any, bounds the wait; ctx
// cancellation unblocks the read and leaves the Conn closed, since the
// protocol gives no way to abandon mid-query and keep the connection
// usable.
func (c *Conn) Query(ctx context.Context, sql string) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateClosed {
		return nil, ErrClosed
	}
	if c.state != stateReady {
		return nil, fmt.Errorf("%w: Query called before startup completed", ErrProtocolViolation)
	}

	cancelWatch := c.watchContext(ctx)
	defer cancelWatch()

	start := time.Now()

	// fail marks the Conn closed and releases its socket after an error that
	// leaves the protocol stream unusable.
	fail := func() {
		c.state = stateClosed
		if c.metrics != nil {
			c.metrics.ConnectionClosed(c.metricsLabel)
		}
		c.conn.Close()
	}

	if _, err := c.conn.Write(wire.EncodeQuery(sql)); err != nil {
		fail()
		return nil, fmt.Errorf("pgwire: sending query: %w", err)
	}

	result := &Result{}
	var queryErr error

	for {
		msg, err := c.nextMessage()
		if err != nil {
			fail()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}

		switch msg.Tag {
		case wire.TagRowDescription:
			result.Fields = msg.Fields
			result.Rows = nil
		case wire.TagDataRow:
			for i := range msg.Values {
				if i < len(result.Fields) && result.Fields[i].Format == wire.FormatBinary {
					msg.Values[i].Binary = true
				}
			}
			result.Rows = append(result.Rows, msg.Values)
		case wire.TagCommandComplete:
			result.CommandTag = msg.CommandTag
		case wire.TagParamStatus:
			c.params[msg.ParamName] = msg.ParamValue
		case wire.TagErrorResponse:
			queryErr = &ServerError{Fields: msg.NoticeOrError}
		case wire.TagNoticeResponse:
			// No logging sink is threaded through Query; a caller that
			// needs notices surfaced should watch server logs instead.
		case wire.TagReadyForQuery:
			if len(c.readBuf) != 0 {
				fail()
				return nil, fmt.Errorf("%w: %d trailing bytes after ReadyForQuery", ErrProtocolViolation, len(c.readBuf))
			}
			if queryErr != nil {
				if c.metrics != nil {
					code := ""
					if se, ok := queryErr.(*ServerError); ok {
						code = se.Code()
					}
					c.metrics.QueryFailed(c.metricsLabel, code)
				}
				return nil, queryErr
			}
			if c.metrics != nil {
				c.metrics.QueryCompleted(c.metricsLabel, time.Since(start), len(result.Rows))
			}
			return result, nil
		}
	}
}

// WithTimeout derives a context bounded by d from parent, for callers that
// want to scope a Query's deadline independently of the context used to
// Open the connection. A non-positive d returns parent unchanged.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, d)
}
