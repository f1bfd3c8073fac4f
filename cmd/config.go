package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/deploymenttheory/go-squashfs/internal/tree"
	"github.com/deploymenttheory/go-squashfs/internal/types"
)

// loadDefaults resolves the attributes for implicitly created
// directories: built-in values, overridden by GOSQFS_* environment
// variables, overridden by the --defaults option string.
func loadDefaults(spec string) (tree.Defaults, error) {
	v := viper.New()
	v.SetEnvPrefix("gosqfs")
	v.AutomaticEnv()
	v.SetDefault("uid", 0)
	v.SetDefault("gid", 0)
	v.SetDefault("mode", "0755")
	v.SetDefault("mtime", 0)

	if spec != "" {
		for _, opt := range strings.Split(spec, ",") {
			key, value, ok := strings.Cut(opt, "=")
			if !ok {
				return tree.Defaults{}, fmt.Errorf("%w: defaults option %q",
					types.ErrConfigInvalid, opt)
			}
			switch key {
			case "uid", "gid", "mode", "mtime":
				v.Set(key, value)
			default:
				return tree.Defaults{}, fmt.Errorf("%w: unknown default %q",
					types.ErrConfigInvalid, key)
			}
		}
	}

	mode, err := strconv.ParseUint(v.GetString("mode"), 8, 16)
	if err != nil || mode&^uint64(types.PermMask) != 0 {
		return tree.Defaults{}, fmt.Errorf("%w: default mode %q",
			types.ErrConfigInvalid, v.GetString("mode"))
	}
	return tree.Defaults{
		UID:   v.GetUint32("uid"),
		GID:   v.GetUint32("gid"),
		Mode:  uint16(mode),
		MTime: v.GetUint32("mtime"),
	}, nil
}
