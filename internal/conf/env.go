package conf

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
)

type envUnmarshaler interface {
	unmarshalEnv(string) error
}

func parseEnvBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "yes", "true":
		return true, nil
	case "no", "false":
		return false, nil
	}
	return false, fmt.Errorf("invalid value '%s'", v)
}

// keyIsSet reports whether the variable itself or any sub-variable
// is present in the environment.
func keyIsSet(env map[string]string, key string) bool {
	if _, ok := env[key]; ok {
		return true
	}
	for k := range env {
		if strings.HasPrefix(k, key+"_") {
			return true
		}
	}
	return false
}

func applyEnv(env map[string]string, key string, rv reflect.Value) error {
	if u, ok := rv.Addr().Interface().(envUnmarshaler); ok {
		if ev, ok := env[key]; ok {
			err := u.unmarshalEnv(ev)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
		return nil
	}

	switch rv.Kind() {
	case reflect.String:
		if ev, ok := env[key]; ok {
			rv.SetString(ev)
		}
		return nil

	case reflect.Int:
		if ev, ok := env[key]; ok {
			iv, err := strconv.ParseInt(ev, 10, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			rv.SetInt(iv)
		}
		return nil

	case reflect.Uint64:
		if ev, ok := env[key]; ok {
			uv, err := strconv.ParseUint(ev, 10, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			rv.SetUint(uv)
		}
		return nil

	case reflect.Bool:
		if ev, ok := env[key]; ok {
			bv, err := parseEnvBool(ev)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			rv.SetBool(bv)
		}
		return nil

	case reflect.Pointer:
		if rv.IsNil() {
			if !keyIsSet(env, key) {
				return nil
			}
			rv.Set(reflect.New(rv.Type().Elem()))
		}
		return applyEnv(env, key, rv.Elem())

	case reflect.Map:
		for k := range env {
			sub, ok := strings.CutPrefix(k, key+"_")
			if !ok {
				continue
			}

			mapKey, _, _ := strings.Cut(sub, "_")
			if mapKey == "" || mapKey != strings.ToUpper(mapKey) {
				continue
			}

			if rv.IsNil() {
				rv.Set(reflect.MakeMap(rv.Type()))
			}

			kv := reflect.ValueOf(strings.ToLower(mapKey))
			ev := rv.MapIndex(kv)
			if !ev.IsValid() {
				ev = reflect.New(rv.Type().Elem().Elem())
				rv.SetMapIndex(kv, ev)
			}

			err := applyEnv(env, key+"_"+mapKey, ev.Elem())
			if err != nil {
				return err
			}
		}
		return nil

	case reflect.Struct:
		rt := rv.Type()
		for i := 0; i < rt.NumField(); i++ {
			f := rt.Field(i)
			if f.Tag.Get("json") == "-" {
				continue
			}

			err := applyEnv(env, key+"_"+strings.ToUpper(f.Name), rv.Field(i))
			if err != nil {
				return err
			}
		}
		return nil
	}

	return fmt.Errorf("unsupported type: %v", rv.Type())
}

func loadFromEnvironment(prefix string, v interface{}) error {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		name, value, _ := strings.Cut(kv, "=")
		env[name] = value
	}

	return applyEnv(env, prefix, reflect.ValueOf(v).Elem())
}
