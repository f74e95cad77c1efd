package ipc

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
)

// maxLine bounds one request or response line. set-text carries a full transcript.
const maxLine = 1 << 20

// ErrNoOwner means nothing is listening on the owner socket.
var ErrNoOwner = errors.New("no murmur owner listening")

// writeLine encodes v as a single JSON line.
func writeLine(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// readLine decodes the next JSON line from r into v.
func readLine(r io.Reader, v any) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLine)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		return fmt.Errorf("read: %w", io.ErrUnexpectedEOF)
	}
	if err := json.Unmarshal(sc.Bytes(), v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
