package workers

import "github.com/sirupsen/logrus"

// Direction identifies which side of a frame's trip through the wire a
// Middleware is being run for.
type Direction int

const (
	// Outgoing runs on Send, before the frame is encoded and written.
	Outgoing Direction = iota
	// Incoming runs on a decoded frame, before OnMessage dispatch.
	Incoming
)

func (d Direction) String() string {
	if d == Outgoing {
		return "outgoing"
	}
	return "incoming"
}

// Middleware inspects or rewrites a Record in place. It runs exactly once
// per frame per direction, in registration order: once
// outgoing on Send, once incoming before OnMessage dispatch. A middleware
// that returns an error doesn't abort the frame; the error is logged and
// the frame proceeds with whatever mutation already happened.
type Middleware func(dir Direction, rec *Record) error

// runMiddlewares applies mws to rec in registration order, logging (not
// propagating) any individual failure.
func runMiddlewares(mws []Middleware, dir Direction, rec *Record, log *logrus.Entry) {
	for i, mw := range mws {
		if err := mw(dir, rec); err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"tx":         rec.Tx,
				"direction":  dir.String(),
				"middleware": i,
			}).Warn("workers: middleware error, frame passed on")
		}
	}
}
