package redis

const (
	// putConsoleSessionScript stores a console session and indexes it by expiry
	putConsoleSessionScript = `
local session_key = KEYS[1]     -- playdesk:console:session:{id}
local index_key = KEYS[2]       -- playdesk:console:sessions

local id = ARGV[1]
local expires_ms = tonumber(ARGV[10])

redis.call('HSET', session_key,
  'id', id,
  'user_id', ARGV[2],
  'email', ARGV[3],
  'name', ARGV[4],
  'role', ARGV[5],
  'branch_id', ARGV[6],
  'token', ARGV[7],
  'created_at', ARGV[8],
  'expires_at', ARGV[9]
)

if expires_ms > 0 then
  redis.call('PEXPIREAT', session_key, ARGV[10])
end

redis.call('ZADD', index_key, ARGV[10], id)

return 'OK'
`

	// countConsoleSessionsScript prunes expired index entries and counts the rest
	countConsoleSessionsScript = `
local index_key = KEYS[1]       -- playdesk:console:sessions

-- Score 0 means no expiry; keep those
redis.call('ZREMRANGEBYSCORE', index_key, '(0', ARGV[1])

return redis.call('ZCARD', index_key)
`

	// putSnapshotScript stores a feed snapshot unless a newer one is present
	putSnapshotScript = `
local snapshot_key = KEYS[1]    -- playdesk:feed:snapshot:{branchID}

local branch_id = ARGV[1]
local sessions = ARGV[2]
local fetched_at = ARGV[3]
local fetched_ms = tonumber(ARGV[4])
local ttl_ms = tonumber(ARGV[5])

local current = redis.call('HGET', snapshot_key, 'fetched_ms')
if current and tonumber(current) > fetched_ms then
  return 0
end

redis.call('HSET', snapshot_key,
  'branch_id', branch_id,
  'sessions', sessions,
  'fetched_at', fetched_at,
  'fetched_ms', ARGV[4]
)

if ttl_ms > 0 then
  redis.call('PEXPIRE', snapshot_key, ARGV[5])
end

return 1
`
)
