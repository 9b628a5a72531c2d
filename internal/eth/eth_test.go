package eth

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/miniapp-host/internal/confirm"
	"github.com/R3E-Network/miniapp-host/internal/errors"
	"github.com/R3E-Network/miniapp-host/internal/wallet"
	"github.com/R3E-Network/miniapp-host/internal/wallet/wallettest"
)

const devKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func newProxy(t *testing.T, c confirm.Confirmer) (*Proxy, *wallet.LocalSigner, *wallettest.Provider) {
	t.Helper()
	signer, err := wallet.NewLocalSignerFromHex(devKey)
	require.NoError(t, err)
	provider := wallettest.NewProvider(10)
	return NewProxy(provider, signer, c), signer, provider
}

func params(t *testing.T, v ...interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestParseAsset(t *testing.T) {
	a, err := ParseAsset("eip155:8453/native")
	require.NoError(t, err)
	assert.Equal(t, AssetNative, a.Kind)
	assert.Equal(t, int64(8453), a.ChainID.Int64())
	assert.Equal(t, "eip155:8453", a.CAIP2())

	a, err = ParseAsset("eip155:1/slip44:60")
	require.NoError(t, err)
	assert.Equal(t, AssetNative, a.Kind)

	a, err = ParseAsset("eip155:10/erc20:0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85")
	require.NoError(t, err)
	assert.Equal(t, AssetERC20, a.Kind)
	assert.Equal(t, common.HexToAddress("0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85"), a.Address)
	assert.Equal(t, "eip155:10/erc20:0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85", a.String())

	for _, bad := range []string{"", "eip155:10", "solana:1/native", "eip155:x/native", "eip155:0/native", "eip155:1/erc721:0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85", "eip155:1/erc20:0x12"} {
		_, err := ParseAsset(bad)
		assert.Error(t, err, bad)
	}
}

func TestTransferCalldata(t *testing.T) {
	assert.Equal(t, "a9059cbb", hex.EncodeToString(transferSelector))

	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	data, err := TransferCalldata(to, big.NewInt(1000))
	require.NoError(t, err)
	require.Len(t, data, 68)
	assert.Equal(t, byte(0xaa), data[35])
	assert.Equal(t, big.NewInt(1000), new(big.Int).SetBytes(data[36:]))

	_, err = TransferCalldata(to, big.NewInt(-1))
	assert.Error(t, err)
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount("1000000")
	require.NoError(t, err)
	assert.Equal(t, int64(1000000), v.Int64())

	v, err = ParseAmount("0x10")
	require.NoError(t, err)
	assert.Equal(t, int64(16), v.Int64())

	for _, bad := range []string{"", "0", "-5", "1.5", "abc"} {
		_, err := ParseAmount(bad)
		assert.Error(t, err, bad)
	}
}

func TestProxy_Unsupported(t *testing.T) {
	p, _, _ := newProxy(t, confirm.Approve)
	_, err := p.Request(context.Background(), "eth_mine", nil)
	assert.True(t, errors.IsCode(err, errors.CodeUnsupportedMethod))
}

func TestProxy_ParamsMustBeArray(t *testing.T) {
	p, _, _ := newProxy(t, confirm.Approve)
	_, err := p.Request(context.Background(), "eth_chainId", json.RawMessage(`{"a":1}`))
	assert.True(t, errors.IsCode(err, errors.CodeMissingParameter))
}

func TestProxy_Passthrough(t *testing.T) {
	p, signer, provider := newProxy(t, confirm.Approve)

	out, err := p.Request(context.Background(), "eth_chainId", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `"0xa"`, string(out.(json.RawMessage)))

	out, err = p.Request(context.Background(), "eth_getBalance", params(t, signer.Address().Hex(), "latest"))
	require.NoError(t, err)
	assert.JSONEq(t, `"0xde0b6b3a7640000"`, string(out.(json.RawMessage)))

	calls := provider.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "eth_getBalance", calls[1].Method)
	assert.Len(t, calls[1].Params, 2)
}

func TestProxy_PassthroughNodeError(t *testing.T) {
	p, _, provider := newProxy(t, confirm.Approve)
	provider.Fail("eth_call", 3, "execution reverted")

	_, err := p.Request(context.Background(), "eth_call", params(t, map[string]string{"to": "0x00000000000000000000000000000000000000aa"}, "latest"))
	require.Error(t, err)
	be := errors.From(err)
	assert.Equal(t, errors.CodeNetworkError, be.Code)
	assert.Equal(t, 3, be.Data["providerCode"])
	assert.Equal(t, "execution reverted", be.Data["providerMessage"])
}

func TestProxy_Accounts(t *testing.T) {
	p, signer, provider := newProxy(t, confirm.Approve)
	for _, m := range []string{"eth_accounts", "eth_requestAccounts"} {
		out, err := p.Request(context.Background(), m, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{signer.Address().Hex()}, out)
	}
	assert.Empty(t, provider.Calls())
}

func TestProxy_PersonalSign(t *testing.T) {
	p, signer, _ := newProxy(t, confirm.Deny)
	ctx := context.Background()

	for _, addr := range []string{
		signer.Address().Hex(),
		"0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266",
		"0xF39FD6E51AAD88F6F4CE6AB8827279CFFFB92266",
	} {
		out, err := p.Request(ctx, "personal_sign", params(t, "hello", addr))
		require.NoError(t, err, addr)
		sig, err := hexutil.Decode(out.(string))
		require.NoError(t, err)
		recovered, err := wallet.RecoverMessageSigner([]byte("hello"), sig)
		require.NoError(t, err)
		assert.Equal(t, signer.Address(), recovered)
	}

	for _, addr := range []string{"0x70997970C51812dc3A010C7d01b50e0d17dc79C8", "not-an-address", "0xf39fd6e51aad88f6f4ce6ab8827279cfffb9226"} {
		_, err := p.Request(ctx, "personal_sign", params(t, "hello", addr))
		assert.True(t, errors.IsCode(err, errors.CodeAddressMismatch), addr)
	}

	_, err := p.Request(ctx, "personal_sign", params(t, "hello"))
	assert.True(t, errors.IsCode(err, errors.CodeMissingParameter))
}

func TestProxy_PersonalSignHexMessage(t *testing.T) {
	p, signer, _ := newProxy(t, confirm.Approve)
	out, err := p.Request(context.Background(), "personal_sign", params(t, "0x68656c6c6f", signer.Address().Hex()))
	require.NoError(t, err)
	sig, _ := hexutil.Decode(out.(string))
	recovered, err := wallet.RecoverMessageSigner([]byte("hello"), sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), recovered)
}

func TestProxy_EthSign(t *testing.T) {
	p, signer, _ := newProxy(t, confirm.Approve)
	out, err := p.Request(context.Background(), "eth_sign", params(t, signer.Address().Hex(), "0xdeadbeef"))
	require.NoError(t, err)
	sig, _ := hexutil.Decode(out.(string))
	recovered, err := wallet.RecoverMessageSigner([]byte{0xde, 0xad, 0xbe, 0xef}, sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), recovered)
}

const typedData = `{
  "types": {
    "EIP712Domain": [{"name":"name","type":"string"},{"name":"chainId","type":"uint256"}],
    "Mail": [{"name":"contents","type":"string"}]
  },
  "primaryType": "Mail",
  "domain": {"name":"Ether Mail","chainId":"10"},
  "message": {"contents":"hi"}
}`

func TestProxy_SignTypedData(t *testing.T) {
	p, signer, _ := newProxy(t, confirm.Approve)

	asString := params(t, signer.Address().Hex(), typedData)
	asObject := json.RawMessage(`["` + signer.Address().Hex() + `",` + typedData + `]`)

	for _, raw := range []json.RawMessage{asString, asObject} {
		out, err := p.Request(context.Background(), "eth_signTypedData_v4", raw)
		require.NoError(t, err)
		sig, _ := hexutil.Decode(out.(string))
		assert.Len(t, sig, 65)
	}

	_, err := p.Request(context.Background(), "eth_signTypedData_v4", params(t, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", typedData))
	assert.True(t, errors.IsCode(err, errors.CodeAddressMismatch))

	_, err = p.Request(context.Background(), "eth_signTypedData_v4", params(t, signer.Address().Hex(), "{not json"))
	assert.True(t, errors.IsCode(err, errors.CodeMissingParameter))
}

func TestProxy_SendTransaction(t *testing.T) {
	rec := confirm.NewRecorder(confirm.Approve)
	p, signer, provider := newProxy(t, rec)

	tx := map[string]string{
		"from":  signer.Address().Hex(),
		"to":    "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		"value": "0x2386f26fc10000",
	}
	out, err := p.Request(context.Background(), "eth_sendTransaction", params(t, tx))
	require.NoError(t, err)
	assert.Regexp(t, `^0x[0-9a-f]{64}$`, out)

	sent := provider.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, out, sent[0].Hash().Hex())
	assert.Equal(t, uint64(3), sent[0].Nonce())
	assert.Equal(t, uint64(21000), sent[0].Gas())
	assert.Equal(t, big.NewInt(10), sent[0].ChainId())

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(10)), sent[0])
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), from)

	prompts := rec.Prompts()
	require.Len(t, prompts, 1)
	assert.Equal(t, confirm.KindTransaction, prompts[0].Kind)
	assert.Equal(t, "10000000000000000", prompts[0].Fields["value"])
}

func TestProxy_SendTransactionRejected(t *testing.T) {
	p, signer, provider := newProxy(t, confirm.Deny)
	tx := map[string]string{"from": signer.Address().Hex(), "to": "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"}

	_, err := p.Request(context.Background(), "eth_sendTransaction", params(t, tx))
	assert.True(t, errors.IsCode(err, errors.CodeRejectedByUser))
	assert.Equal(t, 4001, errors.From(err).Public().Data["rpcCode"])
	assert.Empty(t, provider.Sent())
	assert.Zero(t, provider.CallCount("eth_sendRawTransaction"))
}

func TestProxy_SendTransactionChecks(t *testing.T) {
	p, _, provider := newProxy(t, confirm.Approve)

	_, err := p.Request(context.Background(), "eth_sendTransaction", params(t, map[string]string{"to": "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"}))
	assert.True(t, errors.IsCode(err, errors.CodeMissingParameter))

	_, err = p.Request(context.Background(), "eth_sendTransaction", params(t, map[string]string{"from": "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"}))
	assert.True(t, errors.IsCode(err, errors.CodeAddressMismatch))

	assert.Empty(t, provider.Calls())
}

func TestProxy_SendTransactionNodeFailure(t *testing.T) {
	p, signer, provider := newProxy(t, confirm.Approve)
	provider.Fail("eth_sendRawTransaction", -32000, "insufficient funds for gas * price + value")

	_, err := p.Request(context.Background(), "eth_sendTransaction", params(t, map[string]string{"from": signer.Address().Hex(), "to": signer.Address().Hex()}))
	be := errors.From(err)
	assert.Equal(t, errors.CodeTransactionFailed, be.Code)
	assert.Equal(t, "insufficient funds for gas * price + value", be.Data["providerMessage"])
}

func TestProxy_SwitchChain(t *testing.T) {
	p, _, _ := newProxy(t, confirm.Approve)

	out, err := p.Request(context.Background(), "wallet_switchEthereumChain", params(t, map[string]string{"chainId": "0xa"}))
	require.NoError(t, err)
	assert.Nil(t, out)

	_, err = p.Request(context.Background(), "wallet_switchEthereumChain", params(t, map[string]string{"chainId": "0x1"}))
	assert.True(t, errors.IsCode(err, errors.CodeUnsupportedMethod))

	_, err = p.Request(context.Background(), "wallet_switchEthereumChain", nil)
	assert.True(t, errors.IsCode(err, errors.CodeMissingParameter))
}

func TestProxy_WithHandler(t *testing.T) {
	p := NewProxy(nil, nil, confirm.Approve, WithHandler("net_version", func(ctx context.Context, _ []json.RawMessage) (interface{}, error) {
		return "10", nil
	}))
	out, err := p.Request(context.Background(), "net_version", nil)
	require.NoError(t, err)
	assert.Equal(t, "10", out)
	assert.Contains(t, p.Methods(), "eth_sendTransaction")
}
