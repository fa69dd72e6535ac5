package label

// Labeled is implemented by every tagged value regardless of its payload type.
// Sinks that accept arbitrary values use it to recover the label.
type Labeled interface {
	Label() Label
	Payload() any
}

// Tagged pairs a value with exactly one label. Build it with Wrap; the zero
// Tagged carries no label and is rejected by sinks.
type Tagged[T any] struct {
	value T
	label Label
}

// Wrap pairs value with lbl.
func Wrap[T any](value T, lbl Label) Tagged[T] {
	return Tagged[T]{value: value, label: lbl}
}

func (t Tagged[T]) Value() T { return t.value }

func (t Tagged[T]) Label() Label { return t.label }

// Payload returns the value as any, for code that only knows Labeled.
func (t Tagged[T]) Payload() any { return t.value }

// IsTagged reports whether the value carries a minted label.
func (t Tagged[T]) IsTagged() bool { return !t.label.IsZero() }

var _ Labeled = Tagged[struct{}]{}
