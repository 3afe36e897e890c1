package storage

import (
	"chatline/internal/auth"
	"chatline/internal/envelope"
	"chatline/internal/models"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketClients  = []byte("clients")
	bucketChannels = []byte("channels")
	bucketMessages = []byte("messages")
	bucketProfiles = []byte("profiles")
)

// MessageQuery selects a page of a channel's messages in time order.
type MessageQuery struct {
	Offset int
	Limit  int
	// Name keeps only records with this name when set.
	Name string
	Desc bool
}

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketClients, bucketChannels, bucketMessages, bucketProfiles} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// UpsertClient stores new or updated client credentials.
func (s *BboltStorage) UpsertClient(c auth.ClientCredentials) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketClients)
		dbClient := &DBClient{
			ID:              c.ID,
			Name:            c.Name,
			Status:          string(c.Status),
			SecretHash:      c.SecretHash,
			CreatedAt:       c.CreatedAt,
			FailedAttempts:  c.FailedAttempts,
			LastAttemptTime: c.LastAttemptTime,
		}

		data, err := dbClient.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbClient.Key(), data)
	})
}

// ListClients returns all clients stored in the database.
func (s *BboltStorage) ListClients() ([]auth.ClientCredentials, error) {
	var clients []auth.ClientCredentials
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketClients)
		return b.ForEach(func(k, v []byte) error {
			var c DBClient
			if err := c.UnmarshalBinary(v); err != nil {
				return err
			}
			clients = append(clients, auth.ClientCredentials{
				ClientInfo: models.ClientInfo{
					ID:     c.ID,
					Name:   c.Name,
					Status: models.ClientStatus(c.Status),
				},
				SecretHash:      c.SecretHash,
				CreatedAt:       c.CreatedAt,
				FailedAttempts:  c.FailedAttempts,
				LastAttemptTime: c.LastAttemptTime,
			})
			return nil
		})
	})
	return clients, err
}

// UpsertChannel saves channel metadata, keeping its message sequence.
func (s *BboltStorage) UpsertChannel(ch models.ChannelInfo) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChannels)
		dbChannel := DBChannel{WorkspaceID: ch.WorkspaceID, ID: ch.ID, Name: ch.Name}
		if existing := b.Get(dbChannel.Key()); existing != nil {
			var old DBChannel
			if err := old.UnmarshalBinary(existing); err != nil {
				return err
			}
			dbChannel.LastSeq = old.LastSeq
		}
		data, err := dbChannel.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbChannel.Key(), data)
	})
}

// ListChannels returns all channels stored in the database.
func (s *BboltStorage) ListChannels() ([]models.ChannelInfo, error) {
	var channels []models.ChannelInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChannels)
		return b.ForEach(func(k, v []byte) error {
			var c DBChannel
			if err := c.UnmarshalBinary(v); err != nil {
				return err
			}
			channels = append(channels, models.ChannelInfo{WorkspaceID: c.WorkspaceID, ID: c.ID, Name: c.Name})
			return nil
		})
	})
	return channels, err
}

func (s *BboltStorage) HasChannel(workspaceID, channelID string) (bool, error) {
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(bucketChannels).Get(channelKey(workspaceID, channelID)) != nil
		return nil
	})
	return found, err
}

// AppendMessage stores msg in its channel and advances the channel sequence.
func (s *BboltStorage) AppendMessage(workspaceID, channelID string, msg models.ChatMessage, protocol string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if channelID == "" {
			return errors.New("message missing channelID")
		}

		// 1. Bump channel sequence
		channels := tx.Bucket(bucketChannels)
		key := channelKey(workspaceID, channelID)
		chData := channels.Get(key)
		if chData == nil {
			return fmt.Errorf("channel %s: %w", key, models.ErrNotFound)
		}
		var dbChannel DBChannel
		if err := dbChannel.UnmarshalBinary(chData); err != nil {
			return fmt.Errorf("failed to unmarshal channel: %w", err)
		}
		dbChannel.LastSeq++
		newData, err := dbChannel.MarshalBinary()
		if err != nil {
			return err
		}
		if err := channels.Put(key, newData); err != nil {
			return err
		}

		// 2. Save message
		channelBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists(key)
		if err != nil {
			return fmt.Errorf("failed to create channel bucket: %w", err)
		}
		dbMessage := DBMessage{
			Seq:       dbChannel.LastSeq,
			Time:      msg.TimeNanos,
			Name:      msg.Topic,
			Publisher: msg.Publisher,
			Protocol:  protocol,
			Value:     msg.Value,
		}
		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := channelBucket.Put(dbMessage.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}
		return nil
	})
}

// ListMessages returns one page of a channel's messages. Total counts every
// message matching the name filter.
func (s *BboltStorage) ListMessages(workspaceID, channelID string, q MessageQuery) (models.MessagesPage, error) {
	page := models.MessagesPage{Offset: int64(q.Offset), Limit: int64(q.Limit), Messages: []models.StoredMessage{}}
	err := s.db.View(func(tx *bbolt.Tx) error {
		channelBucket := tx.Bucket(bucketMessages).Bucket(channelKey(workspaceID, channelID))
		if channelBucket == nil {
			return nil // No messages for this channel
		}

		c := channelBucket.Cursor()
		first, next := c.First, c.Next
		if q.Desc {
			first, next = c.Last, c.Prev
		}

		for k, v := first(); k != nil; k, v = next() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			if q.Name != "" && dbMsg.Name != q.Name {
				continue
			}
			page.Total++
			if page.Total <= int64(q.Offset) || len(page.Messages) >= q.Limit {
				continue
			}

			stored := envelope.ToStored(models.ChatMessage{
				Topic:     dbMsg.Name,
				Publisher: dbMsg.Publisher,
				Value:     dbMsg.Value,
				TimeNanos: dbMsg.Time,
			}, channelID, dbMsg.Protocol)
			page.Messages = append(page.Messages, stored)
		}
		return nil
	})
	return page, err
}

// GetProfile returns the stored profile, or an empty one for a client that never wrote one.
func (s *BboltStorage) GetProfile(clientID string) (models.Profile, error) {
	profile := models.Profile{ID: clientID}
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketProfiles).Get([]byte(clientID))
		if data == nil {
			return nil
		}
		var p DBProfile
		if err := p.UnmarshalBinary(data); err != nil {
			return err
		}
		profile.Metadata.UI.LastRead = p.LastRead
		return nil
	})
	return profile, err
}

// MergeReadMarkers overwrites the given keys of the client's lastRead map
// and leaves the others as they are.
func (s *BboltStorage) MergeReadMarkers(clientID string, markers map[string]int64) (models.Profile, error) {
	var merged DBProfile
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketProfiles)
		merged = DBProfile{ClientID: clientID}
		if data := b.Get([]byte(clientID)); data != nil {
			if err := merged.UnmarshalBinary(data); err != nil {
				return err
			}
		}
		if merged.LastRead == nil {
			merged.LastRead = make(map[string]int64, len(markers))
		}
		for k, v := range markers {
			merged.LastRead[k] = v
		}

		data, err := merged.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(merged.Key(), data)
	})
	if err != nil {
		return models.Profile{}, err
	}
	return models.Profile{
		ID:       clientID,
		Metadata: models.ProfileMetadata{UI: models.UIMetadata{LastRead: merged.LastRead}},
	}, nil
}
