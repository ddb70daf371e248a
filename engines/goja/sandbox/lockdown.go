package sandbox

import "github.com/dop251/goja"

// CodeGeneration lists the code generation facilities left enabled.
type CodeGeneration struct {
	// Strings keeps eval and the Function constructors working.
	Strings bool
	// Wasm installs a WebAssembly object backed by wazero.
	Wasm bool
}

const lockdownSource = `(function (g) {
	"use strict";
	var message = "Code generation from strings disallowed for this context";
	function blocked() {
		throw new EvalError(message);
	}
	blocked.prototype = Function.prototype;

	var protos = [
		Function.prototype,
		Object.getPrototypeOf(async function () {}),
		Object.getPrototypeOf(function* () {})
	];
	for (var i = 0; i < protos.length; i++) {
		Object.defineProperty(protos[i], "constructor", {
			value: blocked, writable: false, enumerable: false, configurable: false
		});
	}
	["eval", "Function"].forEach(function (name) {
		Object.defineProperty(g, name, {
			value: blocked, writable: false, enumerable: false, configurable: false
		});
	});
})(this);`

var lockdownProgram = goja.MustCompile("lockdown.js", lockdownSource, true)

func lockdown(vm *goja.Runtime) error {
	_, err := vm.RunProgram(lockdownProgram)
	return err
}
