package submem

import (
	"github.com/cockroachdb/errors"
	"github.com/kelseyhightower/envconfig"
)

type envOptions struct {
	BlockSize           int   `envconfig:"BLOCK_SIZE"`
	SubblockGranularity int   `envconfig:"SUBBLOCK_GRANULARITY"`
	HeapSizeLimits      []int `envconfig:"HEAP_SIZE_LIMITS"`
}

// OptionsFromEnv reads CreateOptions from the environment. With the prefix "SUBMEM", the variables
// are SUBMEM_BLOCK_SIZE, SUBMEM_SUBBLOCK_GRANULARITY and SUBMEM_HEAP_SIZE_LIMITS, the last being a
// comma-separated list with one entry per memory heap. Unset variables are left at zero, so New will
// fill in defaults for them.
func OptionsFromEnv(prefix string) (CreateOptions, error) {
	var env envOptions
	err := envconfig.Process(prefix, &env)
	if err != nil {
		return CreateOptions{}, withKind(errors.Wrapf(err, "reading %s options from the environment", prefix), ErrInvalidOptions)
	}

	options := CreateOptions{
		BlockSize:           env.BlockSize,
		SubblockGranularity: env.SubblockGranularity,
		HeapSizeLimits:      env.HeapSizeLimits,
	}

	options.setDefaults()
	err = options.validate()
	if err != nil {
		return CreateOptions{}, err
	}

	return options, nil
}
