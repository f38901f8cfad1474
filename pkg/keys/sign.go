package keys

import (
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"

	"mwallet/pkg/models"
)

// Sign decodes txPayload, the EIP-2718 encoding of an unsigned typed
// transaction, signs it for the chain id it carries and returns the signed
// encoding. Untyped legacy payloads are rejected because their unsigned form
// has no chain id.
func Sign(acct *Account, txPayload []byte) ([]byte, error) {
	if acct.Wiped() {
		return nil, fmt.Errorf("%w: account key is not available", models.ErrSigning)
	}

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(txPayload); err != nil {
		return nil, fmt.Errorf("%w: malformed transaction payload: %v", models.ErrSigning, err)
	}
	if tx.Type() == types.LegacyTxType {
		return nil, fmt.Errorf("%w: payload carries no chain id", models.ErrSigning)
	}
	chainID := tx.ChainId()
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("%w: payload carries no chain id", models.ErrSigning)
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), acct.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSigning, err)
	}
	out, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: encode signed transaction: %v", models.ErrSigning, err)
	}
	return out, nil
}
