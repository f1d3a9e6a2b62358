package scripting

import (
	"errors"

	lua "github.com/yuin/gopher-lua"

	"github.com/notepid/twilight_pm/internal/pm"
	"github.com/notepid/twilight_pm/internal/user"
)

// UserAPI exposes member functions to Lua.
type UserAPI struct {
	repo          *user.Repo
	currentMember *user.Member
	denyEnabled   bool
	validate      ValidateInput

	// Callback when a member logs in
	OnLogin func(m *user.Member)
}

// NewUserAPI creates a Lua member API. denyEnabled is the site's
// permission_enable_deny setting used when building actors.
func NewUserAPI(repo *user.Repo, denyEnabled bool) *UserAPI {
	return &UserAPI{repo: repo, denyEnabled: denyEnabled}
}

// SetCurrentMember updates the current member reference.
func (api *UserAPI) SetCurrentMember(m *user.Member) {
	api.currentMember = m
}

// Actor returns the messaging actor for the logged-in member.
func (api *UserAPI) Actor() (pm.Actor, error) {
	if api.currentMember == nil {
		return pm.Actor{}, errors.New("not logged in")
	}
	return api.repo.LoadActor(api.currentMember.ID, api.denyEnabled)
}

// Register installs member functions in the Lua state.
func (api *UserAPI) Register(L *lua.LState) {
	mod := L.NewTable()

	mod.RawSetString("login", L.NewFunction(api.luaLogin))
	mod.RawSetString("register", L.NewFunction(api.luaRegister))
	mod.RawSetString("exists", L.NewFunction(api.luaExists))
	mod.RawSetString("get_current", L.NewFunction(api.luaGetCurrent))
	mod.RawSetString("set_notify", L.NewFunction(api.luaSetNotify))
	mod.RawSetString("set_receive_from", L.NewFunction(api.luaSetReceiveFrom))
	mod.RawSetString("set_buddies", L.NewFunction(api.luaSetBuddies))
	mod.RawSetString("set_ignored", L.NewFunction(api.luaSetIgnored))
	mod.RawSetString("update_password", L.NewFunction(api.luaUpdatePassword))
	mod.RawSetString("list", L.NewFunction(api.luaList))

	L.SetGlobal("members", mod)
}

func (api *UserAPI) luaLogin(L *lua.LState) int {
	name := L.CheckString(1)
	password := L.CheckString(2)

	m, err := api.repo.Authenticate(name, password)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}

	api.currentMember = m
	if api.OnLogin != nil {
		api.OnLogin(m)
	}

	L.Push(api.memberToTable(L, m))
	L.Push(lua.LNil)
	return 2
}

func (api *UserAPI) luaRegister(L *lua.LState) int {
	name := L.CheckString(1)
	password := L.CheckString(2)
	realName := L.OptString(3, "")
	email := L.OptString(4, "")

	for _, err := range []error{
		api.validate.ValidateUsername(name),
		api.validate.ValidatePassword(password),
		api.validate.ValidateString(realName, "real name", MaxRealNameLen),
		api.validate.ValidateEmail(email),
	} {
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
	}
	if api.exists(name) {
		L.Push(lua.LNil)
		L.Push(lua.LString("username already exists"))
		return 2
	}

	m, err := api.repo.Create(name, password, realName, email)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(api.memberToTable(L, m))
	L.Push(lua.LNil)
	return 2
}

func (api *UserAPI) exists(name string) bool {
	_, err := api.repo.GetByName(name)
	return err == nil
}

func (api *UserAPI) luaExists(L *lua.LState) int {
	L.Push(lua.LBool(api.exists(L.CheckString(1))))
	return 1
}

func (api *UserAPI) luaGetCurrent(L *lua.LState) int {
	if api.currentMember == nil {
		L.Push(lua.LNil)
		return 1
	}
	m, err := api.repo.GetByID(api.currentMember.ID)
	if err != nil {
		L.Push(lua.LNil)
		return 1
	}
	api.currentMember = m
	L.Push(api.memberToTable(L, m))
	return 1
}

// update runs fn for the logged-in member and pushes nil or an error string.
func (api *UserAPI) update(L *lua.LState, fn func(id int) error) int {
	if api.currentMember == nil {
		L.Push(lua.LString("not logged in"))
		return 1
	}
	if err := fn(api.currentMember.ID); err != nil {
		L.Push(lua.LString(err.Error()))
		return 1
	}
	L.Push(lua.LNil)
	return 1
}

func (api *UserAPI) luaSetNotify(L *lua.LState) int {
	mode := L.CheckInt(1)
	return api.update(L, func(id int) error { return api.repo.SetNotify(id, mode) })
}

func (api *UserAPI) luaSetReceiveFrom(L *lua.LState) int {
	policy := L.CheckInt(1)
	return api.update(L, func(id int) error { return api.repo.SetReceiveFrom(id, policy) })
}

func (api *UserAPI) luaSetBuddies(L *lua.LState) int {
	ids := api.memberIDs(L, L.CheckTable(1))
	return api.update(L, func(id int) error { return api.repo.SetBuddies(id, ids) })
}

func (api *UserAPI) luaSetIgnored(L *lua.LState) int {
	ids := api.memberIDs(L, L.CheckTable(1))
	return api.update(L, func(id int) error { return api.repo.SetIgnoreList(id, ids) })
}

func (api *UserAPI) luaUpdatePassword(L *lua.LState) int {
	password := L.CheckString(1)
	if err := api.validate.ValidatePassword(password); err != nil {
		L.Push(lua.LString(err.Error()))
		return 1
	}
	return api.update(L, func(id int) error { return api.repo.UpdatePassword(id, password) })
}

// memberIDs reads a list of member ids or names. Unknown names are skipped.
func (api *UserAPI) memberIDs(L *lua.LState, tbl *lua.LTable) []int {
	var ids []int
	var names []string
	tbl.ForEach(func(_, v lua.LValue) {
		switch v := v.(type) {
		case lua.LNumber:
			ids = append(ids, int(v))
		case lua.LString:
			names = append(names, string(v))
		}
	})
	if len(names) > 0 {
		resolved, err := api.repo.ResolveNames(names)
		if err != nil {
			L.RaiseError("resolve names: %v", err)
		}
		for _, n := range names {
			if id, ok := resolved[n]; ok {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func (api *UserAPI) luaList(L *lua.LState) int {
	members, err := api.repo.List()
	if err != nil {
		L.Push(lua.LNil)
		return 1
	}

	tbl := L.NewTable()
	for i, m := range members {
		tbl.RawSetInt(i+1, api.memberToTable(L, m))
	}
	L.Push(tbl)
	return 1
}

// memberToTable converts a Member to a Lua table.
func (api *UserAPI) memberToTable(L *lua.LState, m *user.Member) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("id", lua.LNumber(m.ID))
	tbl.RawSetString("name", lua.LString(m.Name))
	tbl.RawSetString("real_name", lua.LString(m.DisplayName()))
	tbl.RawSetString("email", lua.LString(m.Email))
	tbl.RawSetString("group", lua.LNumber(m.PrimaryGroup))
	tbl.RawSetString("messages", lua.LNumber(m.Messages))
	tbl.RawSetString("unread", lua.LNumber(m.Unread))
	tbl.RawSetString("new_pm", lua.LBool(m.NewPM))
	tbl.RawSetString("created", lua.LString(m.CreatedAt.Format("2006-01-02")))
	return tbl
}
