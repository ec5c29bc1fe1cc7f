package bagio

import "fmt"

type NotOpenError string

func (msg NotOpenError) Error() string {
	return fmt.Sprintf("%s: file not open", string(msg))
}

type ShortReadError string

func (msg ShortReadError) Error() string {
	return fmt.Sprintf("%s: unexpectedly short read", string(msg))
}
