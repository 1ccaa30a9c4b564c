//go:build js && wasm

package main

import (
	"errors"
	"fmt"
	"syscall/js"
)

// generateFingerprint(audioArray, sampleRate, channels) returns
// {error: number, data: [{hash, offset}] | string}.
func generateFingerprint(this js.Value, args []js.Value) any {
	if len(args) < 3 {
		return makeErrorResponse(ErrorInvalidArgs, "Expected 3 arguments: audioArray, sampleRate, channels")
	}

	audioDataJS, sampleRateJS, channelsJS := args[0], args[1], args[2]
	if audioDataJS.Type() != js.TypeObject {
		return makeErrorResponse(ErrorInvalidArgs, "audioArray must be an Array or Float64Array")
	}
	if sampleRateJS.Type() != js.TypeNumber {
		return makeErrorResponse(ErrorInvalidArgs, "sampleRate must be a number")
	}
	if channelsJS.Type() != js.TypeNumber {
		return makeErrorResponse(ErrorInvalidArgs, "channels must be a number")
	}

	length := audioDataJS.Length()
	samples := make([]float64, length)
	for i := 0; i < length; i++ {
		val := audioDataJS.Index(i)
		if val.Type() != js.TypeNumber {
			return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("audioArray element %d is not a number", i))
		}
		samples[i] = val.Float()
	}

	fps, err := fingerprintSamples(samples, sampleRateJS.Int(), channelsJS.Int())
	if err != nil {
		var fe *fingerprintError
		if errors.As(err, &fe) {
			return makeErrorResponse(fe.code, fe.msg)
		}
		return makeErrorResponse(ErrorProcessing, err.Error())
	}

	hashArray := js.Global().Get("Array").New(len(fps))
	for i, fp := range fps {
		obj := js.Global().Get("Object").New()
		obj.Set("hash", fp.Hash)
		obj.Set("offset", fp.Offset)
		hashArray.SetIndex(i, obj)
	}

	result := js.Global().Get("Object").New()
	result.Set("error", ErrorNone)
	result.Set("data", hashArray)
	return result
}

func makeErrorResponse(errorCode int, message string) js.Value {
	result := js.Global().Get("Object").New()
	result.Set("error", errorCode)
	result.Set("data", message)
	return result
}

func main() {
	console := js.Global().Get("console")
	logf := func(method, msg string) {
		if !console.IsUndefined() {
			console.Call(method, msg)
		}
	}

	logf("log", "🔧 EarPrint WASM module initializing...")
	js.Global().Set("generateFingerprint", js.FuncOf(generateFingerprint))

	window := js.Global().Get("window")
	if window.IsUndefined() {
		logf("error", "❌ window object is undefined!")
	} else {
		event := js.Global().Get("CustomEvent").New("wasmReady", js.Global().Get("Object").New())
		window.Call("dispatchEvent", event)
	}
	logf("log", "✅ EarPrint WASM module loaded and ready")

	select {}
}
