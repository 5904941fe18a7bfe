package pubsub

import (
	"context"
	"fmt"
)

// KeyStorage is shared by securityGroupId and reference-counted by every
// ReaderGroup/WriterGroup that uses it.
type KeyStorage struct {
	securityGroupID string
	policyURI       string

	securityContext SecurityContext

	signingKey    []byte
	encryptingKey []byte
	keyNonce      []byte

	securityTokenID      uint32
	hasToken             bool
	nonceSequenceNumber  uint32

	referenceCount int
}

// acquireKeyStorage looks up or creates the shared KeyStorage for
// securityGroupID: if absent, creates one via the configured policy
// and increments its refcount. Caller must hold the service
// mutex.
func (m *Manager) acquireKeyStorage(securityGroupID, policyURI string) (*KeyStorage, error) {
	if ks, ok := m.keyStorages[securityGroupID]; ok {
		ks.referenceCount++
		return ks, nil
	}

	if policyURI == "" {
		policyURI = m.securityGroupPolicies[securityGroupID]
	}

	ks := &KeyStorage{securityGroupID: securityGroupID, policyURI: policyURI, referenceCount: 1}

	if m.security != nil {
		ctx, err := m.security.NewContext(policyURI, nil, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: initializing KeyStorage %q: %s", ErrConfigurationError, securityGroupID, err)
		}
		ks.securityContext = ctx
	}

	m.keyStorages[securityGroupID] = ks
	return ks, nil
}

// releaseKeyStorage decrements securityGroupID's refcount on removal or
// reconfiguration, destroying the store once it reaches zero. Caller must
// hold the service mutex.
func (m *Manager) releaseKeyStorage(securityGroupID string) {
	ks, ok := m.keyStorages[securityGroupID]
	if !ok {
		return
	}
	ks.referenceCount--
	if ks.referenceCount > 0 {
		return
	}
	if m.security != nil && ks.securityContext != nil {
		m.security.DeleteContext(ks.securityContext)
	}
	delete(m.keyStorages, securityGroupID)
}

// SetEncryptionKeys implements setEncryptionKeys(securityTokenId,
// signingKey, encryptingKey, keyNonce): it creates a policy
// context on first call and updates keys thereafter; a new securityTokenId
// resets nonceSequenceNumber to 1.
func (m *Manager) SetEncryptionKeys(ctx context.Context, readerGroupID Identifier, securityTokenID uint32, signingKey, encryptingKey, keyNonce []byte) error {
	return m.withLock(ctx, func(ctx context.Context) error {
		g, _ := m.findReaderGroup(readerGroupID)
		if g == nil {
			return fmt.Errorf("%w: ReaderGroup %s", ErrNotFound, readerGroupID)
		}
		if g.config.SecurityGroupID == "" {
			return fmt.Errorf("%w: ReaderGroup %s has no securityGroupId configured", ErrConfigurationError, readerGroupID)
		}

		ks := g.keyStorage
		if ks == nil {
			var err error
			ks, err = m.acquireKeyStorage(g.config.SecurityGroupID, g.config.SecurityPolicyURI)
			if err != nil {
				return err
			}
			g.keyStorage = ks
		}

		return m.setKeyStorageKeys(ctx, ks, securityTokenID, signingKey, encryptingKey, keyNonce)
	})
}

func (m *Manager) setKeyStorageKeys(ctx context.Context, ks *KeyStorage, securityTokenID uint32, signingKey, encryptingKey, keyNonce []byte) error {
	newToken := !ks.hasToken || ks.securityTokenID != securityTokenID

	if m.security != nil {
		if ks.securityContext == nil {
			sc, err := m.security.NewContext(ks.policyURI, signingKey, encryptingKey, keyNonce)
			if err != nil {
				return fmt.Errorf("%w: creating security context for %q: %s", ErrConfigurationError, ks.securityGroupID, err)
			}
			ks.securityContext = sc
		} else if err := m.security.SetSecurityKeys(ks.securityContext, signingKey, encryptingKey, keyNonce); err != nil {
			return fmt.Errorf("%w: updating security keys for %q: %s", ErrConfigurationError, ks.securityGroupID, err)
		}
	}

	ks.signingKey = append([]byte(nil), signingKey...)
	ks.encryptingKey = append([]byte(nil), encryptingKey...)
	ks.keyNonce = append([]byte(nil), keyNonce...)
	ks.securityTokenID = securityTokenID
	ks.hasToken = true

	if newToken {
		ks.nonceSequenceNumber = 1
	}
	return nil
}

// ActivateKey implements the key-rotation half for a WriterGroup,
// symmetric to SetEncryptionKeys.
func (m *Manager) ActivateKey(ctx context.Context, writerGroupID Identifier, securityTokenID uint32, signingKey, encryptingKey, keyNonce []byte) error {
	return m.withLock(ctx, func(ctx context.Context) error {
		g, _ := m.findWriterGroup(writerGroupID)
		if g == nil {
			return fmt.Errorf("%w: WriterGroup %s", ErrNotFound, writerGroupID)
		}
		if g.config.SecurityGroupID == "" {
			return fmt.Errorf("%w: WriterGroup %s has no securityGroupId configured", ErrConfigurationError, writerGroupID)
		}

		ks := g.keyStorage
		if ks == nil {
			var err error
			ks, err = m.acquireKeyStorage(g.config.SecurityGroupID, g.config.SecurityPolicyURI)
			if err != nil {
				return err
			}
			g.keyStorage = ks
		}

		return m.setKeyStorageKeys(ctx, ks, securityTokenID, signingKey, encryptingKey, keyNonce)
	})
}
