package dynamodb

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dreschagin/media-relay/internal/application/port"
)

// Таблица общая для кеша и архива, ключ один: PK.
//
//	CACHE#{subject}-{type}-{max}   запись кеша
//	ASSET#{id}                     метаданные архива, GSI1 по аккаунту
const (
	attrPK     = "PK"
	attrGSI1PK = "GSI1PK"
	attrGSI1SK = "GSI1SK"

	cachePrefix   = "CACHE#"
	assetPrefix   = "ASSET#"
	subjectPrefix = "SUBJECT#"
)

func primaryKey(pk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{attrPK: &types.AttributeValueMemberS{Value: pk}}
}

func assetPK(id string) string { return assetPrefix + id }

func subjectPK(subject string) string { return subjectPrefix + subject }

// subjectSK сортируется лексикографически по времени сохранения
func subjectSK(savedAtMS int64, id string) string {
	return fmt.Sprintf("TS#%013d#ID#%s", savedAtMS, id)
}

// indexKey LastEvaluatedKey запроса по GSI1
type indexKey struct {
	PK     string `dynamodbav:"PK" json:"pk"`
	GSI1PK string `dynamodbav:"GSI1PK" json:"gsi1pk"`
	GSI1SK string `dynamodbav:"GSI1SK" json:"gsi1sk"`
}

// pageCursor привязан к аккаунту: курсор чужого запроса отклоняется
type pageCursor struct {
	Subject string   `json:"subject"`
	Key     indexKey `json:"key"`
}

func encodeCursor(subject string, lastKey map[string]types.AttributeValue) (string, error) {
	var key indexKey
	if err := attributevalue.UnmarshalMap(lastKey, &key); err != nil {
		return "", fmt.Errorf("failed to decode last evaluated key: %w", err)
	}

	raw, err := json.Marshal(pageCursor{Subject: subject, Key: key})
	if err != nil {
		return "", fmt.Errorf("failed to marshal cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeCursor(subject, cursor string) (map[string]types.AttributeValue, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", port.ErrInvalidCursor, err)
	}

	var c pageCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", port.ErrInvalidCursor, err)
	}
	if c.Subject != subject {
		return nil, fmt.Errorf("%w: issued for another subject", port.ErrInvalidCursor)
	}
	if c.Key.PK == "" || c.Key.GSI1PK != subjectPK(subject) || c.Key.GSI1SK == "" {
		return nil, fmt.Errorf("%w: incomplete key", port.ErrInvalidCursor)
	}

	return attributevalue.MarshalMap(c.Key)
}
