package script

import (
	"fmt"
	"sort"
	"strconv"

	lua "github.com/yuin/gopher-lua"

	"ex-kairo/pkg/kairo"
)

// toGoValue converts a Lua value to plain Go data. Tables that form a
// contiguous 1..n sequence become slices, other tables become maps.
func toGoValue(value lua.LValue) any {
	return toGoValueVisited(value, make(map[*lua.LTable]bool))
}

func toGoValueVisited(value lua.LValue, visited map[*lua.LTable]bool) any {
	switch typed := value.(type) {
	case lua.LBool:
		return bool(typed)
	case lua.LNumber:
		number := float64(typed)
		if number == float64(int64(number)) {
			return int64(number)
		}
		return number
	case lua.LString:
		return string(typed)
	case *lua.LTable:
		if visited[typed] {
			return nil
		}
		visited[typed] = true
		return tableToGo(typed, visited)
	default:
		return nil
	}
}

func tableToGo(table *lua.LTable, visited map[*lua.LTable]bool) any {
	length := table.MaxN()
	count := 0
	table.ForEach(func(lua.LValue, lua.LValue) { count++ })

	if length > 0 && length == count {
		items := make([]any, length)
		for idx := 1; idx <= length; idx++ {
			items[idx-1] = toGoValueVisited(table.RawGetInt(idx), visited)
		}
		return items
	}

	fields := make(map[string]any, count)
	table.ForEach(func(key lua.LValue, value lua.LValue) {
		var name string
		switch typed := key.(type) {
		case lua.LString:
			name = string(typed)
		case lua.LNumber:
			name = strconv.FormatFloat(float64(typed), 'f', -1, 64)
		default:
			name = key.String()
		}
		fields[name] = toGoValueVisited(value, visited)
	})

	return fields
}

// toStrings accepts nil, a string, or a sequence of strings.
func toStrings(value lua.LValue) ([]string, error) {
	switch typed := value.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LString:
		return []string{string(typed)}, nil
	case *lua.LTable:
		items := make([]string, 0, typed.Len())
		var convertErr error
		typed.ForEach(func(_ lua.LValue, item lua.LValue) {
			text, ok := item.(lua.LString)
			if !ok && convertErr == nil {
				convertErr = fmt.Errorf("list item is %s, want string", item.Type())
				return
			}
			items = append(items, string(text))
		})
		if convertErr != nil {
			return nil, convertErr
		}
		return items, nil
	default:
		return nil, fmt.Errorf("got %s, want string or list", value.Type())
	}
}

func stringList(L *lua.LState, items []string) *lua.LTable {
	table := L.CreateTable(len(items), 0)
	for idx, item := range items {
		table.RawSetInt(idx+1, lua.LString(item))
	}

	return table
}

func stringMap(L *lua.LState, items map[string]string) *lua.LTable {
	table := L.CreateTable(0, len(items))
	keys := make([]string, 0, len(items))
	for key := range items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		table.RawSetString(key, lua.LString(items[key]))
	}

	return table
}

// interactionTable exposes interaction fields to scripts using their JSON names.
func interactionTable(L *lua.LState, interaction *kairo.Interaction) lua.LValue {
	if interaction == nil {
		return lua.LNil
	}

	user := L.CreateTable(0, 3)
	user.RawSetString("id", lua.LString(interaction.User.ID))
	user.RawSetString("username", lua.LString(interaction.User.Username))
	user.RawSetString("bot", lua.LBool(interaction.User.Bot))

	table := L.CreateTable(0, 12)
	table.RawSetString("id", lua.LString(interaction.ID))
	table.RawSetString("kind", lua.LString(interaction.Kind))
	table.RawSetString("command_name", lua.LString(interaction.CommandName))
	table.RawSetString("custom_id", lua.LString(interaction.CustomID))
	table.RawSetString("user", user)
	table.RawSetString("channel_id", lua.LString(interaction.ChannelID))
	table.RawSetString("guild_id", lua.LString(interaction.GuildID))
	table.RawSetString("in_guild", lua.LBool(interaction.InGuild()))
	table.RawSetString("created_at", lua.LNumber(interaction.CreatedAt.UnixMilli()))
	table.RawSetString("options", stringMap(L, interaction.Options))
	table.RawSetString("values", stringList(L, interaction.Values))

	return table
}

func commandTable(L *lua.LState, command kairo.Command) lua.LValue {
	if command == nil {
		return lua.LNil
	}

	spec := command.Spec()
	table := L.CreateTable(0, 3)
	table.RawSetString("id", lua.LString(command.ID()))
	table.RawSetString("name", lua.LString(spec.Name))
	table.RawSetString("category", lua.LString(command.Category()))

	return table
}

func eventTable(L *lua.LState, event *kairo.LifecycleEvent) lua.LValue {
	table := L.CreateTable(0, 10)
	table.RawSetString("kind", lua.LString(event.Kind))
	table.RawSetString("handler", lua.LString(event.Handler))
	table.RawSetString("reason", lua.LString(event.Reason))
	table.RawSetString("is_reload", lua.LBool(event.IsReload))
	table.RawSetString("remaining", lua.LNumber(event.Remaining.Milliseconds()))
	table.RawSetString("side", lua.LString(event.Side))
	table.RawSetString("missing", stringList(L, event.Missing))
	if event.Module != nil {
		table.RawSetString("module", lua.LString(event.Module.ID))
		table.RawSetString("category", lua.LString(event.Module.Category))
	}
	if event.Err != nil {
		table.RawSetString("error", lua.LString(event.Err.Error()))
	}
	table.RawSetString("interaction", interactionTable(L, event.Interaction))

	return table
}
