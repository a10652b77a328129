package privval

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/blockberries/ckptberry/logger"
	"github.com/blockberries/ckptberry/sortition"
	"github.com/blockberries/ckptberry/types"
)

const (
	keyFilePerm   = 0600
	stateFilePerm = 0600
)

// FilePV is a file-based private validator
type FilePV struct {
	mu sync.Mutex

	keyFilePath   string
	stateFilePath string

	pubKey  types.PublicKey
	privKey ed25519.PrivateKey

	lastSignState LastSignState
	lastProposal  LastProposal

	log *zap.Logger
}

// FilePVKey represents the key file structure
type FilePVKey struct {
	PubKey  types.PublicKey `json:"pub_key"`
	PrivKey []byte          `json:"priv_key"`
}

// FilePVState represents the state file structure
type FilePVState struct {
	LastVote     LastSignState `json:"last_vote"`
	LastProposal LastProposal  `json:"last_proposal"`
}

// NewFilePV loads the key and state files, creating a fresh key when the
// key file does not exist.
func NewFilePV(keyFilePath, stateFilePath string) (*FilePV, error) {
	pv := &FilePV{
		keyFilePath:   keyFilePath,
		stateFilePath: stateFilePath,
		log:           logger.Named("privval"),
	}
	if err := pv.loadKey(); err != nil {
		return nil, err
	}
	if err := pv.loadState(); err != nil {
		return nil, err
	}
	return pv, nil
}

// GenerateFilePV writes a new key and an empty state, replacing existing
// files.
func GenerateFilePV(keyFilePath, stateFilePath string) (*FilePV, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return NewFilePVFromKey(priv, keyFilePath, stateFilePath)
}

// NewFilePVFromKey writes priv and an empty state.
func NewFilePVFromKey(priv ed25519.PrivateKey, keyFilePath, stateFilePath string) (*FilePV, error) {
	pv := &FilePV{
		keyFilePath:   keyFilePath,
		stateFilePath: stateFilePath,
		pubKey:        types.PublicKeyOf(priv),
		privKey:       priv,
		log:           logger.Named("privval"),
	}
	if err := pv.saveKey(); err != nil {
		return nil, err
	}
	if err := pv.saveState(); err != nil {
		return nil, err
	}
	return pv, nil
}

func (pv *FilePV) loadKey() error {
	data, err := os.ReadFile(pv.keyFilePath)
	if os.IsNotExist(err) {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}
		pv.pubKey = types.PublicKeyOf(priv)
		pv.privKey = priv
		return pv.saveKey()
	}
	if err != nil {
		return fmt.Errorf("failed to read key file: %w", err)
	}

	var key FilePVKey
	if err := json.Unmarshal(data, &key); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKeyFile, err)
	}
	if len(key.PrivKey) != ed25519.PrivateKeySize {
		return fmt.Errorf("%w: private key is %d bytes", ErrInvalidKeyFile, len(key.PrivKey))
	}
	priv := ed25519.PrivateKey(key.PrivKey)
	if types.PublicKeyOf(priv) != key.PubKey {
		return fmt.Errorf("%w: public key does not match private key", ErrInvalidKeyFile)
	}
	pv.pubKey = key.PubKey
	pv.privKey = priv
	return nil
}

func (pv *FilePV) saveKey() error {
	data, err := json.MarshalIndent(FilePVKey{PubKey: pv.pubKey, PrivKey: pv.privKey}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal key: %w", err)
	}
	return writeFileAtomic(pv.keyFilePath, data, keyFilePerm)
}

func (pv *FilePV) loadState() error {
	data, err := os.ReadFile(pv.stateFilePath)
	if os.IsNotExist(err) {
		pv.lastSignState = LastSignState{}
		pv.lastProposal = LastProposal{}
		return pv.saveState()
	}
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var state FilePVState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidStateFile, err)
	}
	pv.lastSignState = state.LastVote
	pv.lastProposal = state.LastProposal
	return nil
}

func (pv *FilePV) saveState() error {
	data, err := json.MarshalIndent(FilePVState{LastVote: pv.lastSignState, LastProposal: pv.lastProposal}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	return writeFileAtomic(pv.stateFilePath, data, stateFilePerm)
}

// writeFileAtomic writes to a temporary file in the same directory, syncs it
// and renames it over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, perm); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// PubKey implements sortition.Signer.
func (pv *FilePV) PubKey() types.PublicKey {
	return pv.pubKey
}

// ProveVRF implements sortition.Signer.
func (pv *FilePV) ProveVRF(alpha []byte) (types.VRFProof, error) {
	return sortition.Prove(pv.privKey, alpha)
}

// SignPriority implements sortition.Signer. A priority is bound to its
// state through the VRF input, so it needs no guard.
func (pv *FilePV) SignPriority(p *types.Priority) error {
	if p.PubKey != pv.pubKey {
		return fmt.Errorf("priority for %s, signer is %s", p.PubKey.Short(), pv.pubKey.Short())
	}
	p.Sign(pv.privKey)
	return nil
}

// SignVote implements PrivValidator.
func (pv *FilePV) SignVote(vote *types.ValidatorVote) error {
	pv.mu.Lock()
	defer pv.mu.Unlock()

	if err := pv.lastSignState.CheckVote(vote); err != nil {
		pv.log.Warn("refused to sign vote", zap.Object("vote", vote), zap.Error(err))
		return err
	}
	if pv.lastSignState.IsSameVote(vote) && pv.lastSignState.Signature != nil {
		sig := *pv.lastSignState.Signature
		vote.Signature = &sig
		return nil
	}
	if err := vote.Sign(pv.privKey); err != nil {
		return err
	}

	state := vote.State
	id := vote.ID()
	pv.lastSignState = LastSignState{
		State:     &state,
		VotedType: vote.VotedType,
		VotedID:   vote.VotedID,
		VoteID:    &id,
		Signature: vote.Signature,
	}
	// persisted before the signature leaves the signer
	if err := pv.saveState(); err != nil {
		vote.Signature = nil
		return err
	}
	return nil
}

// SignProposal implements PrivValidator.
func (pv *FilePV) SignProposal(item types.StateItem) error {
	pv.mu.Lock()
	defer pv.mu.Unlock()

	if err := pv.lastProposal.check(item); err != nil {
		pv.log.Warn("refused to sign proposal",
			zap.Stringer("type", item.ItemType()), zap.Object("state", item.ItemState()))
		return err
	}
	switch it := item.(type) {
	case *types.CkptHash:
		it.Sign(pv.privKey)
	case *types.CkptData:
		it.Sign(pv.privKey)
	case *types.MockCkptData:
		it.Sign(pv.privKey)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedItem, item.ItemType())
	}

	state := item.ItemState()
	id := item.ID()
	pv.lastProposal = LastProposal{State: &state, ItemType: item.ItemType(), ItemID: &id}
	return pv.saveState()
}

// LastSignState returns a copy of the last vote record.
func (pv *FilePV) LastSignState() LastSignState {
	pv.mu.Lock()
	defer pv.mu.Unlock()
	return pv.lastSignState
}

// Reset clears the sign state. Only safe when the key has never voted on
// the current network.
func (pv *FilePV) Reset() error {
	pv.mu.Lock()
	defer pv.mu.Unlock()

	pv.lastSignState = LastSignState{}
	pv.lastProposal = LastProposal{}
	return pv.saveState()
}

var _ PrivValidator = (*FilePV)(nil)
