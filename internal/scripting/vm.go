package scripting

import (
	"fmt"
	"log"

	lua "github.com/yuin/gopher-lua"
)

// VM wraps a Lua state for member mailbox scripts.
type VM struct {
	L *lua.LState
}

// NewVM creates a new Lua VM with the standard libraries loaded.
func NewVM() *VM {
	L := lua.NewState(lua.Options{
		CallStackSize: 120,
		RegistrySize:  120 * 20,
	})

	return &VM{L: L}
}

// Close shuts down the Lua VM.
func (vm *VM) Close() {
	vm.L.Close()
}

// LoadScript loads and executes a Lua script file.
// The script may return a table of hook functions.
func (vm *VM) LoadScript(path string) error {
	if err := vm.L.DoFile(path); err != nil {
		return fmt.Errorf("load script %s: %w", path, err)
	}
	return nil
}

// DoString runs a chunk of Lua source.
func (vm *VM) DoString(src string) error {
	if err := vm.L.DoString(src); err != nil {
		return fmt.Errorf("run script: %w", err)
	}
	return nil
}

// CallHook calls a function on the hooks table returned by the script.
// A missing hook is not an error.
func (vm *VM) CallHook(name string, args ...lua.LValue) error {
	hooks := vm.hooksTable()
	if hooks == nil {
		return fmt.Errorf("no hooks table found")
	}

	fn := hooks.RawGetString(name)
	if fn == lua.LNil {
		return nil
	}
	if _, ok := fn.(*lua.LFunction); !ok {
		return fmt.Errorf("hooks.%s is not a function", name)
	}

	if err := vm.L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, args...); err != nil {
		return fmt.Errorf("call hooks.%s: %w", name, err)
	}
	return nil
}

// HasHook checks if the hooks table defines a function.
func (vm *VM) HasHook(name string) bool {
	hooks := vm.hooksTable()
	if hooks == nil {
		return false
	}
	_, ok := hooks.RawGetString(name).(*lua.LFunction)
	return ok
}

// hooksTable is either the script's return value or the global "hooks".
func (vm *VM) hooksTable() *lua.LTable {
	if tbl, ok := vm.L.Get(-1).(*lua.LTable); ok {
		return tbl
	}
	if tbl, ok := vm.L.GetGlobal("hooks").(*lua.LTable); ok {
		return tbl
	}
	return nil
}

// SetGlobal sets a global value in the Lua state.
func (vm *VM) SetGlobal(name string, value lua.LValue) {
	vm.L.SetGlobal(name, value)
}

// LogError logs a Lua error with context.
func LogError(context string, err error) {
	if err != nil {
		log.Printf("script: %s: %v", context, err)
	}
}
