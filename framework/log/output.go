/*
Gale Messaging Gateway - Unified SMS/MMS/Email messaging gateway.
Copyright © 2024-2026 Max Mazurov <fox.cpp@disroot.org>, Gale Messaging Gateway contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

type Output interface {
	Write(stamp time.Time, debug bool, msg string)
	Close() error
}

type multiOut struct {
	outs []Output
}

func (m multiOut) Write(stamp time.Time, debug bool, msg string) {
	for _, out := range m.outs {
		out.Write(stamp, debug, msg)
	}
}

func (m multiOut) Close() error {
	for _, out := range m.outs {
		if err := out.Close(); err != nil {
			return err
		}
	}
	return nil
}

func MultiOutput(outputs ...Output) Output {
	return multiOut{outputs}
}

type funcOut struct {
	out   func(time.Time, bool, string)
	close func() error
}

func (f funcOut) Write(stamp time.Time, debug bool, msg string) {
	f.out(stamp, debug, msg)
}

func (f funcOut) Close() error {
	return f.close()
}

func FuncOutput(f func(time.Time, bool, string), close func() error) Output {
	return funcOut{f, close}
}

type NopOutput struct{}

func (NopOutput) Write(time.Time, bool, string) {}

func (NopOutput) Close() error { return nil }

type wcOutput struct {
	timestamps bool
	wc         io.WriteCloser
}

func (w wcOutput) Write(stamp time.Time, debug bool, msg string) {
	builder := strings.Builder{}
	if w.timestamps {
		builder.WriteString(stamp.UTC().Format("2006-01-02T15:04:05.000Z "))
	}
	if debug {
		builder.WriteString("[debug] ")
	}
	builder.WriteString(msg)
	builder.WriteRune('\n')
	if _, err := io.WriteString(w.wc, builder.String()); err != nil {
		fmt.Fprintf(os.Stderr, "!!! Failed to write message to log: %v\n", err)
	}
}

func (w wcOutput) Close() error {
	return w.wc.Close()
}

// WriteCloserOutput returns a log.Output implementation that
// will write formatted messages to the provided io.WriteCloser.
//
// Closing returned log.Output object will close the underlying
// io.WriteCloser.
//
// Written messages will include timestamp formatted with millisecond
// precision and [debug] prefix for debug messages.
// If timestamps argument is false, timestamps will not be added.
//
// Returned log.Output does not provide its own serialization
// so goroutine-safety depends on the io.Writer. Most operating
// systems have atomic (read: thread-safe) implementations for
// stream I/O, so it should be safe to use WriteCloserOutput with os.File.
func WriteCloserOutput(wc io.WriteCloser, timestamps bool) Output {
	return wcOutput{timestamps, wc}
}

type nopCloser struct {
	io.Writer
}

func (nc nopCloser) Close() error {
	return nil
}

// WriterOutput returns a log.Output implementation that
// will write formatted messages to the provided io.Writer.
//
// It is the same as WriteCloserOutput but Close is no-op.
func WriterOutput(w io.Writer, timestamps bool) Output {
	return wcOutput{timestamps, nopCloser{w}}
}
