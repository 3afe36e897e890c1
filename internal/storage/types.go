package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBClient struct {
	ID              string `msgpack:"id"`
	Name            string `msgpack:"name"`
	Status          string `msgpack:"status"`
	SecretHash      string `msgpack:"secretHash"`
	CreatedAt       int64  `msgpack:"createdAt"`
	FailedAttempts  int64  `msgpack:"failedAttempts"`
	LastAttemptTime int64  `msgpack:"lastAttemptTime"`
}

func (c *DBClient) Key() []byte {
	return []byte(c.ID)
}

func (c *DBClient) MarshalBinary() (data []byte, err error) {
	type alias DBClient
	return msgpack.Marshal((*alias)(c))
}

func (c *DBClient) UnmarshalBinary(data []byte) error {
	type alias DBClient
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBChannel struct {
	WorkspaceID string `msgpack:"workspaceId"`
	ID          string `msgpack:"id"`
	Name        string `msgpack:"name"`
	LastSeq     int64  `msgpack:"lastSeq"`
}

func (c *DBChannel) Key() []byte {
	return channelKey(c.WorkspaceID, c.ID)
}

func (c *DBChannel) MarshalBinary() (data []byte, err error) {
	type alias DBChannel
	return msgpack.Marshal((*alias)(c))
}

func (c *DBChannel) UnmarshalBinary(data []byte) error {
	type alias DBChannel
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBMessage struct {
	Seq       int64  `msgpack:"seq"`
	Time      int64  `msgpack:"time"`
	Name      string `msgpack:"name"`
	Publisher string `msgpack:"publisher"`
	Protocol  string `msgpack:"protocol"`
	Value     string `msgpack:"value"`
}

// Key orders messages by time, then by arrival.
func (m *DBMessage) Key() []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key, uint64(m.Time))
	binary.BigEndian.PutUint64(key[8:], uint64(m.Seq))
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

type DBProfile struct {
	ClientID string           `msgpack:"clientId"`
	LastRead map[string]int64 `msgpack:"lastRead"`
}

func (p *DBProfile) Key() []byte {
	return []byte(p.ClientID)
}

func (p *DBProfile) MarshalBinary() (data []byte, err error) {
	type alias DBProfile
	return msgpack.Marshal((*alias)(p))
}

func (p *DBProfile) UnmarshalBinary(data []byte) error {
	type alias DBProfile
	return msgpack.Unmarshal(data, (*alias)(p))
}

func channelKey(workspaceID, channelID string) []byte {
	return []byte(workspaceID + "/" + channelID)
}
