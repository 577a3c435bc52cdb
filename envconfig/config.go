package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

var (
	// Set via CHATCAPS_DEBUG in the environment. 1 enables debug logs, 2 adds trace logs.
	Debug int
	// Set via CHATCAPS_TEST_DATE in the environment
	TestDate time.Time
	// Set via CHATCAPS_BOS_TOKEN in the environment
	BOSToken string
	// Set via CHATCAPS_EOS_TOKEN in the environment
	EOSToken string
	// Set via CHATCAPS_NUM_PARALLEL in the environment
	NumParallel int
)

const (
	defaultTestDate = "2024-07-26"
	defaultBOSToken = "<|startoftext|>"
	defaultEOSToken = "<|endoftext|>"
)

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"CHATCAPS_DEBUG":        {"CHATCAPS_DEBUG", Debug, "Show additional debug information (e.g. CHATCAPS_DEBUG=1, or 2 for trace)"},
		"CHATCAPS_TEST_DATE":    {"CHATCAPS_TEST_DATE", TestDate.Format(time.DateOnly), "Date strftime_now reports to templates (default \"" + defaultTestDate + "\")"},
		"CHATCAPS_BOS_TOKEN":    {"CHATCAPS_BOS_TOKEN", BOSToken, "Value bound to bos_token (default \"" + defaultBOSToken + "\")"},
		"CHATCAPS_EOS_TOKEN":    {"CHATCAPS_EOS_TOKEN", EOSToken, "Value bound to eos_token (default \"" + defaultEOSToken + "\")"},
		"CHATCAPS_NUM_PARALLEL": {"CHATCAPS_NUM_PARALLEL", NumParallel, "Maximum number of templates processed in parallel (default number of CPUs)"},
	}
}

func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}

// Clean quotes and spaces from the value
func clean(key string) string {
	return strings.Trim(os.Getenv(key), "\"' ")
}

func init() {
	LoadConfig()
}

func LoadConfig() {
	Debug = 0
	if debug := clean("CHATCAPS_DEBUG"); debug != "" {
		if d, err := strconv.Atoi(debug); err == nil {
			Debug = d
		} else if b, err := strconv.ParseBool(debug); err == nil {
			if b {
				Debug = 1
			}
		} else {
			Debug = 1
		}
	}

	TestDate, _ = time.Parse(time.DateOnly, defaultTestDate)
	if date := clean("CHATCAPS_TEST_DATE"); date != "" {
		d, err := time.Parse(time.DateOnly, date)
		if err != nil {
			slog.Error("invalid setting, ignoring", "CHATCAPS_TEST_DATE", date, "error", err)
		} else {
			TestDate = d
		}
	}

	// the token variables may be set to the empty string on purpose
	BOSToken = defaultBOSToken
	if v, ok := os.LookupEnv("CHATCAPS_BOS_TOKEN"); ok {
		BOSToken = v
	}

	EOSToken = defaultEOSToken
	if v, ok := os.LookupEnv("CHATCAPS_EOS_TOKEN"); ok {
		EOSToken = v
	}

	NumParallel = runtime.NumCPU()
	if onp := clean("CHATCAPS_NUM_PARALLEL"); onp != "" {
		val, err := strconv.Atoi(onp)
		if err != nil || val <= 0 {
			slog.Error("invalid setting must be greater than zero", "CHATCAPS_NUM_PARALLEL", onp, "error", err)
		} else {
			NumParallel = val
		}
	}
}
