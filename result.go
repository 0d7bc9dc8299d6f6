package ringio

// BufResult is the return shape of every buffer-owning operation (ReadAt,
// WriteAt, Recv, Send, ...): the operation's own result T alongside the
// buffer B it was given, returned regardless of whether the operation
// succeeded. Callers always get their buffer back, so a failed write never
// loses track of the bytes it was trying to send.
type BufResult[T any, B any] struct {
	Val T
	Buf B
	Err error
}

// Ok builds a successful BufResult.
func Ok[T any, B any](val T, buf B) BufResult[T, B] {
	return BufResult[T, B]{Val: val, Buf: buf}
}

// Fail builds a failed BufResult, still carrying the buffer back to the
// caller.
func Fail[T any, B any](err error, buf B) BufResult[T, B] {
	return BufResult[T, B]{Err: err, Buf: buf}
}

// Unpack returns the three fields as a tuple, for callers that prefer
// `val, buf, err := r.Unpack()` over field access.
func (r BufResult[T, B]) Unpack() (T, B, error) {
	return r.Val, r.Buf, r.Err
}

// LiftBuf replaces a BufResult's buffer with one derived from it (e.g.
// unwrapping a Slice back to its parent Buf) while preserving Val and Err.
func LiftBuf[T any, B any, B2 any](r BufResult[T, B], f func(B) B2) BufResult[T, B2] {
	return BufResult[T, B2]{Val: r.Val, Buf: f(r.Buf), Err: r.Err}
}

// MapBuf transforms the buffer with f whether or not the operation
// succeeded, preserving Val and Err; f is expected to only reshape the
// buffer's type, not its content.
func MapBuf[T any, B any, B2 any](r BufResult[T, B], f func(B) B2) BufResult[T, B2] {
	return BufResult[T, B2]{Val: r.Val, Buf: f(r.Buf), Err: r.Err}
}
