// Command libvhisper builds the stable C ABI described in spec §6: a
// -buildmode=c-shared wrapper around internal/pipeline.Pipeline, addressed
// by opaque int64 handles so the host never sees a Go pointer.
//
// The small C helper function in the cgo preamble below is the same trick
// RooTooZ-shofar/internal/llm/llama.go uses to keep awkward C call shapes
// out of the Go side of the boundary — there it builds default param
// structs; here it indirects through a function pointer so Go can hand a
// host-supplied callback its event without cgo's call-through-typedef
// restrictions getting in the way.
package main

/*
#include <stdlib.h>

typedef void (*vhisper_callback)(int kind, const char* confirmed, const char* stash, const char* text, const char* message, void* user_data);

static void vhisper_invoke_callback(vhisper_callback cb, int kind, const char* confirmed, const char* stash, const char* text, const char* message, void* user_data) {
    if (cb != NULL) {
        cb(kind, confirmed, stash, text, message, user_data);
    }
}
*/
import "C"

import (
	"errors"
	"sync"
	"sync/atomic"
	"unsafe"

	"vhisper/internal/config"
	"vhisper/internal/pipeline"
)

// Result codes for start_streaming/stop_streaming/cancel_streaming/
// update_config (spec §7). Busy and invalid/unparseable config both map to
// the single "operation rejected" code -2. create has its own, simpler
// handle-or-null contract and doesn't use these. EventKind values for
// callback dispatch share the pipeline package's own integer encoding
// (Partial=0, Final=1, Error=2), passed straight through as the callback's
// kind argument.
const (
	codeOK            = 0
	codeInvalidHandle = -1
	codeBusy          = -2
	codeConfigInvalid = -2
)

const version = "0.1.0"

var (
	handlesMu  sync.Mutex
	handles    = map[int64]*pipeline.Pipeline{}
	nextHandle int64

	callbacksMu sync.Mutex
	callbacks   = map[int64]callbackEntry{}
)

type callbackEntry struct {
	fn       C.vhisper_callback
	userData unsafe.Pointer
}

func lookup(h int64) *pipeline.Pipeline {
	handlesMu.Lock()
	defer handlesMu.Unlock()
	return handles[h]
}

// versionCString is allocated once and never freed, so every
// vhisper_version call returns the same static string; the host must not
// pass it to vhisper_string_free.
var versionCString = C.CString(version)

//export vhisper_version
func vhisper_version() *C.char {
	return versionCString
}

//export vhisper_string_free
func vhisper_string_free(s *C.char) {
	C.free(unsafe.Pointer(s))
}

// vhisper_create returns a handle, or 0 (null) on any failure (spec §6's
// C-ABI table: "create ... returns handle or null"), a distinct and simpler
// contract from the negative-int32 result codes start_streaming/
// stop_streaming/cancel_streaming/update_config use. Finer error detail
// isn't surfaced here; spec §7 explicitly leaves that to an optional
// last_error string accessor this build doesn't provide.
//
//export vhisper_create
func vhisper_create(configJSON *C.char) C.int64_t {
	cfg, err := config.Parse([]byte(C.GoString(configJSON)))
	if err != nil {
		return 0
	}
	p, err := pipeline.New(cfg)
	if err != nil {
		return 0
	}

	h := atomic.AddInt64(&nextHandle, 1)
	handlesMu.Lock()
	handles[h] = p
	handlesMu.Unlock()
	return C.int64_t(h)
}

// vhisper_destroy cancels any in-flight session and waits for its
// forwarder, event pump, and reconnect loop to finish observing that
// cancellation (Pipeline.Wait) before the handle and its callback entry are
// freed — spec §4.6/§5's "destroy ... waits for worker threads" / "destroy
// synchronizes both" contract.
//
//export vhisper_destroy
func vhisper_destroy(handle C.int64_t) {
	h := int64(handle)
	handlesMu.Lock()
	p := handles[h]
	delete(handles, h)
	handlesMu.Unlock()

	if p != nil {
		p.CancelStreaming()
		p.Wait()
	}

	callbacksMu.Lock()
	delete(callbacks, h)
	callbacksMu.Unlock()
}

//export vhisper_get_state
func vhisper_get_state(handle C.int64_t) C.int {
	p := lookup(int64(handle))
	if p == nil {
		return C.int(codeInvalidHandle)
	}
	return C.int(p.GetState())
}

//export vhisper_is_streaming
func vhisper_is_streaming(handle C.int64_t) C.int {
	p := lookup(int64(handle))
	if p == nil {
		return C.int(codeInvalidHandle)
	}
	if p.IsStreaming() {
		return 1
	}
	return 0
}

// vhisper_start_streaming registers cb for handle and begins a session on
// a background goroutine, so this function itself returns immediately
// (spec §4.6) even though Pipeline.StartStreaming's first connect attempt
// blocks. A synchronous connect failure that would have been a direct
// return value at the Go layer is instead delivered as an Error event,
// since the C ABI has already returned codeOK by the time it happens.
//
//export vhisper_start_streaming
func vhisper_start_streaming(handle C.int64_t, cb C.vhisper_callback, userData unsafe.Pointer) C.int {
	h := int64(handle)
	p := lookup(h)
	if p == nil {
		return C.int(codeInvalidHandle)
	}

	callbacksMu.Lock()
	callbacks[h] = callbackEntry{fn: cb, userData: userData}
	callbacksMu.Unlock()

	go func() {
		err := p.StartStreaming(func(ev pipeline.Event) {
			dispatchEvent(h, ev)
		})
		if err != nil {
			dispatchEvent(h, pipeline.Event{Kind: pipeline.EventError, Message: err.Error()})
		}
	}()
	return C.int(codeOK)
}

//export vhisper_stop_streaming
func vhisper_stop_streaming(handle C.int64_t) C.int {
	p := lookup(int64(handle))
	if p == nil {
		return C.int(codeInvalidHandle)
	}
	go p.StopStreaming()
	return C.int(codeOK)
}

//export vhisper_cancel_streaming
func vhisper_cancel_streaming(handle C.int64_t) C.int {
	p := lookup(int64(handle))
	if p == nil {
		return C.int(codeInvalidHandle)
	}
	go p.CancelStreaming()
	return C.int(codeOK)
}

//export vhisper_update_config
func vhisper_update_config(handle C.int64_t, configJSON *C.char) C.int {
	p := lookup(int64(handle))
	if p == nil {
		return C.int(codeInvalidHandle)
	}
	cfg, err := config.Parse([]byte(C.GoString(configJSON)))
	if err != nil {
		return C.int(codeConfigInvalid)
	}
	if err := p.UpdateConfig(cfg); err != nil {
		if errors.Is(err, pipeline.ErrBusy) {
			return C.int(codeBusy)
		}
		return C.int(codeConfigInvalid)
	}
	return C.int(codeOK)
}

func dispatchEvent(h int64, ev pipeline.Event) {
	callbacksMu.Lock()
	entry, ok := callbacks[h]
	callbacksMu.Unlock()
	if !ok || entry.fn == nil {
		return
	}

	cConfirmed := C.CString(ev.Confirmed)
	cStash := C.CString(ev.Stash)
	cText := C.CString(ev.Text)
	cMessage := C.CString(ev.Message)
	defer C.free(unsafe.Pointer(cConfirmed))
	defer C.free(unsafe.Pointer(cStash))
	defer C.free(unsafe.Pointer(cText))
	defer C.free(unsafe.Pointer(cMessage))

	C.vhisper_invoke_callback(entry.fn, C.int(ev.Kind), cConfirmed, cStash, cText, cMessage, entry.userData)
}

func main() {}
