package version

import (
	"bytes"
	"fmt"
	"runtime/debug"
)

const delveModule = "github.com/go-delve/delve"

func init() {
	buildInfo = moduleBuildInfo
}

func moduleBuildInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "not built in module mode"
	}

	buf := new(bytes.Buffer)
	fmt.Fprintf(buf, " mod\t%s\t%s\n", info.Main.Path, info.Main.Version)
	for _, dep := range info.Deps {
		if dep.Path != delveModule {
			continue
		}
		fmt.Fprintf(buf, " client\t%s\t%s", dep.Path, dep.Version)
		if dep.Replace != nil {
			fmt.Fprintf(buf, "\t=> %s\t%s", dep.Replace.Path, dep.Replace.Version)
		}
		fmt.Fprintf(buf, "\n")
	}
	return buf.String()
}

// DelveClientVersion returns the version of the Delve client library
// linked into the binary, or "unknown".
func DelveClientVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, dep := range info.Deps {
		if dep.Path == delveModule {
			return dep.Version
		}
	}
	return "unknown"
}
