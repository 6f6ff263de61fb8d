package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/tambayan/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing tambayan configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration in YAML format.

Without a config file or environment overrides this shows every option
with its default value. Redirect the output to create a template:

  tambayan config dump > config.yaml

Environment variables use the TAMBAYAN_ prefix and underscores for nesting.
Example: upstream.anime_id -> TAMBAYAN_UPSTREAM_ANIME_ID`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a struct to a map keyed by mapstructure tags, formatting
// durations for human readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		switch fv := field.Interface().(type) {
		case time.Duration:
			result[key] = fv.String()
		default:
			switch field.Kind() {
			case reflect.Struct:
				result[key] = toMap(fv)
			case reflect.Slice:
				if field.Type().Elem().Kind() == reflect.Struct {
					items := make([]map[string]any, field.Len())
					for j := range items {
						items[j] = toMap(field.Index(j).Interface())
					}
					result[key] = items
				} else {
					result[key] = fv
				}
			default:
				result[key] = fv
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	yamlData, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "# tambayan configuration")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out, "# Duration format: 500ms, 30s, 5m")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out, "# Environment variable overrides:")
	fmt.Fprintln(out, "#   TAMBAYAN_SERVER_HOST, TAMBAYAN_SERVER_PORT")
	fmt.Fprintln(out, "#   TAMBAYAN_UPSTREAM_ANIME_ID, TAMBAYAN_UPSTREAM_EPISODE_ID")
	fmt.Fprintln(out, "#   TAMBAYAN_LOGGING_LEVEL, TAMBAYAN_LOGGING_FORMAT")
	fmt.Fprintln(out)
	fmt.Fprint(out, string(yamlData))

	return nil
}
