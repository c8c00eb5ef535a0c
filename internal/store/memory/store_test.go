package memory_test

import (
	"testing"

	"zchat/internal/domain"
	"zchat/internal/store/memory"
	"zchat/internal/store/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.Store {
		return memory.New()
	})
}
