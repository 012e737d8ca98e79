// Package pooljson provides primitives for working with the JSON messages of
// the nimiq pool protocol.
//
// Every message is a JSON object whose "message" field names its method, for
// example {"message":"error","reason":"Invalid share"}.  Each method maps to
// a concrete Go type through a registry; MarshalMsg adds the tag and
// UnmarshalMsg returns the registered type, rejecting fields the type does not
// declare and missing fields it requires.
package pooljson

// Mode is the mining mode a client registers with.
type Mode string

const (
	// ModeNano mines on light blocks announced by the pool and submits
	// whole blocks as shares.
	ModeNano Mode = "nano"

	// ModeSmart mines on blocks assembled by the client and submits
	// headers with inclusion proofs.
	ModeSmart Mode = "smart"
)

// DeviceData describes the mining device to the pool operator.
type DeviceData struct {
	DeviceName      string `json:"deviceName,omitempty"`
	StartDifficulty uint32 `json:"startDifficulty"`
	MinerVersion    string `json:"minerVersion,omitempty"`
}

// RegisterMsg is sent by the client directly after connecting.
type RegisterMsg struct {
	Mode Mode `json:"mode"`

	// Address is the IBAN-style address rewarded for the shares.
	Address string `json:"address"`

	// DeviceID identifies the device.  It stays the same across
	// restarts.
	DeviceID uint32 `json:"deviceId"`

	DeviceData *DeviceData `json:"deviceData,omitempty"`

	// GenesisHash is the base64 encoded genesis hash of the client.
	GenesisHash string `json:"genesisHash"`
}

// NewRegisterMsg returns a new instance which can be used to issue a register
// message.
func NewRegisterMsg(mode Mode, address string, deviceID uint32,
	deviceData *DeviceData, genesisHash string) *RegisterMsg {

	return &RegisterMsg{
		Mode:        mode,
		Address:     address,
		DeviceID:    deviceID,
		DeviceData:  deviceData,
		GenesisHash: genesisHash,
	}
}

// RegisteredMsg is sent by the pool after a successful registration.
type RegisteredMsg struct{}

// SettingsMsg announces the mining settings for future shares.
type SettingsMsg struct {
	// Address is the miner address to use in shares.
	Address string `json:"address"`

	// ExtraData is the base64 encoded extra data to use in shares.
	ExtraData string `json:"extraData"`

	// TargetCompact is the largest hash accepted as a share, in compact
	// form.
	TargetCompact uint32 `json:"targetCompact"`

	// Nonce is associated with the connection.
	Nonce uint64 `json:"nonce"`

	// Target is sent by some pools in addition to TargetCompact.
	Target *string `json:"target,omitempty"`
}

// NewBlockMsg announces the block to mine on in nano mode.
type NewBlockMsg struct {
	BodyHash      string `json:"bodyHash"`
	AccountsHash  string `json:"accountsHash"`
	PreviousBlock string `json:"previousBlock"`
}

// NewNewBlockMsg returns a new instance which can be used to issue a
// new-block message.
func NewNewBlockMsg(bodyHash, accountsHash, previousBlock string) *NewBlockMsg {
	return &NewBlockMsg{
		BodyHash:      bodyHash,
		AccountsHash:  accountsHash,
		PreviousBlock: previousBlock,
	}
}

// ShareNanoMsg submits a share in nano mode.
type ShareNanoMsg struct {
	// Block is the base64 encoded light block.
	Block string `json:"block"`
}

// NewShareNanoMsg returns a new instance which can be used to issue a nano
// share message.
func NewShareNanoMsg(block string) *ShareNanoMsg {
	return &ShareNanoMsg{Block: block}
}

// ShareSmartMsg submits a share in smart mode.
type ShareSmartMsg struct {
	BlockHeader    string `json:"blockHeader"`
	MinerAddrProof string `json:"minerAddrProof"`
	ExtraDataProof string `json:"extraDataProof"`

	// Block is the base64 encoded full block.  It is only sent when the
	// share is a valid block.
	Block *string `json:"block,omitempty"`
}

// NewShareSmartMsg returns a new instance which can be used to issue a smart
// share message.
//
// The parameters which are pointers indicate they are optional.  Passing nil
// for optional parameters will omit them.
func NewShareSmartMsg(header, minerAddrProof, extraDataProof string, block *string) *ShareSmartMsg {
	return &ShareSmartMsg{
		BlockHeader:    header,
		MinerAddrProof: minerAddrProof,
		ExtraDataProof: extraDataProof,
		Block:          block,
	}
}

// ErrorMsg is sent by the pool when it rejects a share.
type ErrorMsg struct {
	Reason string `json:"reason"`
}

// BalanceMsg announces the balance the pool holds for the registered
// address, in the smallest unit.
type BalanceMsg struct {
	Balance             uint64 `json:"balance"`
	ConfirmedBalance    uint64 `json:"confirmedBalance"`
	PayoutRequestActive bool   `json:"payoutRequestActive"`
}

// PayoutMsg requests a payout.
type PayoutMsg struct {
	// Proof is the base64 encoded signature proof of POOL_PAYOUT followed
	// by the connection nonce.
	Proof string `json:"proof"`
}

func init() {
	MustRegister("register", (*RegisterMsg)(nil))
	MustRegister("registered", (*RegisteredMsg)(nil))
	MustRegister("settings", (*SettingsMsg)(nil))
	MustRegister("new-block", (*NewBlockMsg)(nil))
	MustRegister("share", (*ShareNanoMsg)(nil))
	MustRegister("share", (*ShareSmartMsg)(nil))
	MustRegister("error", (*ErrorMsg)(nil))
	MustRegister("balance", (*BalanceMsg)(nil))
	MustRegister("payout", (*PayoutMsg)(nil))
}
