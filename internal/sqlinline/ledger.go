package sqlinline

const QLedgerLockOwner = `--sql 42d6bb40-3936-431d-8f6a-bd9ea4bca909
select pg_advisory_xact_lock(hashtextextended($1, 0));
`

const QLedgerBalance = `--sql 9e675e2c-a268-42d3-b2a9-d9f7e32e5260
select coalesce(sum(amount), 0)::bigint
from ledger_entries
where owner_id = $1;
`

const QLedgerReferenceExists = `--sql 69e23977-ddca-4974-b3db-02e7e47a5f32
select exists(
    select 1 from ledger_entries where kind = $1 and external_reference = $2
);
`

const QLedgerInsert = `--sql 45c41e1d-c7e4-4c46-a41f-b2ff2d91896c
insert into ledger_entries (id, owner_id, amount, kind, external_reference)
values ($1, $2, $3, $4, $5);
`

const QLedgerInsertIdempotent = `--sql 44e31086-5a85-4c63-8026-e909939d6b1d
insert into ledger_entries (id, owner_id, amount, kind, external_reference)
values ($1, $2, $3, $4, $5)
on conflict (kind, external_reference) where external_reference is not null do nothing;
`

const QLedgerEntries = `--sql 796372fb-621f-41e3-9a69-00adc96b46e0
select id::text, owner_id, amount, kind, external_reference, created_at
from ledger_entries
where owner_id = $1
order by created_at desc, id desc
limit $2;
`
