package bag

import (
	"math"
	"os"

	"github.com/pkg/errors"
)

// Rewrite pipes every message of the bag at src through the receiver into
// a fresh file, carrying the receiver's compression and chunk threshold
// settings. Writes go to dst + ".active" and the file is renamed onto dst
// only on success, so a failed rewrite never clobbers an existing bag.
func (b *Bag) Rewrite(src, dst string) error {
	in := New()
	if err := in.Open(src, Read); err != nil {
		return errors.Wrapf(err, "rewrite: failed to open %s", src)
	}
	defer in.Close()

	target := dst + ".active"
	if err := b.Open(target, Write); err != nil {
		return errors.Wrapf(err, "rewrite: failed to open %s", target)
	}

	all := NewTime(0, 0)
	end := NewTime(math.MaxUint32, math.MaxUint32)
	for _, m := range in.GetMessagesByTopic(in.Topics(), all, end) {
		payload, err := m.Instantiate()
		if err != nil {
			b.Close()
			os.Remove(target)
			return err
		}
		if err := b.Write(m.Topic(), m.Time(), payload, m.SchemaText(), m.Datatype(), m.MD5Sum()); err != nil {
			b.Close()
			os.Remove(target)
			return err
		}
	}

	if err := in.Close(); err != nil {
		return err
	}
	if err := b.Close(); err != nil {
		return err
	}

	return os.Rename(target, dst)
}

// Rewrite is the package-level convenience with default writer settings.
func Rewrite(src, dst string) error {
	return New().Rewrite(src, dst)
}
