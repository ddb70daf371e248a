// Package jserr turns goja parser and runtime errors into scripterr.Error values.
package jserr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"github.com/dop251/goja/parser"

	"github.com/robbyt/go-jsglobals/platform/scripterr"
)

// Parse converts a parser failure on generated source. lineOffset is the
// number of lines the wrapper placed before the snippet.
func Parse(err error, lineOffset int, origin, source string) *scripterr.Error {
	if se, ok := scripterr.As(err); ok {
		return se
	}

	out := &scripterr.Error{
		Kind:    scripterr.KindAnalysis,
		Message: err.Error(),
		Origin:  origin,
		Source:  source,
		Err:     err,
	}

	var pe *parser.Error
	var list parser.ErrorList
	switch {
	case errors.As(err, &list) && len(list) > 0:
		pe = list[0]
	case errors.As(err, &pe):
	}
	if pe != nil {
		out.Message = pe.Message
		out.Location = location(pe.Position.Line, pe.Position.Column, lineOffset)
	}
	return out
}

// Execution converts a failure raised while compiling or running generated
// source. The snippet, not the generated source, is attached.
func Execution(err error, strategy string, origin, snippet string) *scripterr.Error {
	if se, ok := scripterr.As(err); ok {
		if se.Strategy == "" {
			se.Strategy = strategy
		}
		return se
	}

	out := &scripterr.Error{
		Kind:     scripterr.KindExecution,
		Message:  err.Error(),
		Origin:   origin,
		Strategy: strategy,
		Source:   snippet,
		Err:      err,
	}

	var ex *goja.Exception
	var interrupted *goja.InterruptedError
	switch {
	case errors.As(err, &interrupted):
		out.Message = fmt.Sprintf("execution interrupted: %v", interrupted.Value())
	case errors.As(err, &ex):
		out.Message = exceptionMessage(ex)
	}
	return out
}

// exceptionMessage returns "Name: message" for thrown errors, or the thrown
// value itself, without the stack trace.
func exceptionMessage(ex *goja.Exception) string {
	v := ex.Value()
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ex.Error()
	}
	msg := v.String()
	if i := strings.Index(msg, "\n"); i >= 0 {
		msg = msg[:i]
	}
	return msg
}

func location(line, column, lineOffset int) *scripterr.Location {
	if line <= 0 {
		return nil
	}
	line -= lineOffset
	if line < 1 {
		line = 1
	}
	return &scripterr.Location{Line: line, Column: column}
}
